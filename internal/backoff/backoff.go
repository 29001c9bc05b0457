// Package backoff computes retry delay schedules and provides a
// context-aware sleep between attempts.
package backoff

import (
	"context"
	"math"
	"time"
)

// Policy describes the delay schedule between retry attempts.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Factor is the multiplier applied per attempt. A Factor <= 1 gives a
	// linear schedule (Initial * attempt); larger values are exponential
	// (Initial * Factor^(attempt-1)).
	Factor float64
}

// Default returns the edit-retry schedule: 500ms growing linearly per
// attempt, capped at 30s.
func Default() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
	}
}

// Delay returns the pause to take after the given failed attempt.
// Attempts are 1-indexed; values below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	if p.Factor > 1 {
		d = time.Duration(float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1)))
	} else {
		d = p.Initial * time.Duration(attempt)
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Sleep pauses for d or until the context is cancelled, returning the
// context error in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
