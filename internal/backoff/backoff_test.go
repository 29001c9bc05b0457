package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayLinear(t *testing.T) {
	p := Policy{Initial: 500 * time.Millisecond, Max: 30 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1000 * time.Millisecond},
		{5, 2500 * time.Millisecond},
		{0, 500 * time.Millisecond},
		{-3, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.expected {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestDelayExponential(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, 1600 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.expected {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestDelayClampedToMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 3 * time.Second}
	if got := p.Delay(10); got != 3*time.Second {
		t.Errorf("Delay(10) = %v, want clamp to 3s", got)
	}

	uncapped := Policy{Initial: time.Second}
	if got := uncapped.Delay(10); got != 10*time.Second {
		t.Errorf("Delay(10) with no cap = %v, want 10s", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err != context.Canceled {
		t.Errorf("Sleep on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestSleepZero(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
}
