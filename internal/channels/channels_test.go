package channels

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorFormatting(t *testing.T) {
	underlying := errors.New("boom")
	err := ErrConnection("gateway closed", underlying)

	if got := err.Error(); got != "[CONNECTION_ERROR] gateway closed: boom" {
		t.Errorf("unexpected message: %q", got)
	}
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	bare := ErrNotFound("no such channel", nil)
	if got := bare.Error(); got != "[NOT_FOUND] no such channel" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       *Error
		retryable bool
	}{
		{ErrConnection("x", nil), true},
		{NewError(ErrCodeRateLimit, "x", nil), true},
		{ErrTimeout("x", nil), true},
		{ErrUnavailable("x", nil), true},
		{ErrInvalidInput("x", nil), false},
		{ErrNotFound("x", nil), false},
		{ErrAuthentication("x", nil), false},
		{ErrConfig("x", nil), false},
		{ErrInternal("x", nil), false},
	}
	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.retryable {
			t.Errorf("%s: IsRetryable = %v, want %v", tt.err.Code, got, tt.retryable)
		}
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrTimeout("slow", nil))
	if got := CodeOf(wrapped); got != ErrCodeTimeout {
		t.Errorf("CodeOf(wrapped) = %s, want %s", got, ErrCodeTimeout)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrCodeInternal)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("burst token %d denied", i)
		}
	}
	if rl.Allow() {
		t.Error("expected empty bucket to deny")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected Wait to fail on cancelled context")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	rl.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Errorf("expected refill within deadline, got %v", err)
	}
}
