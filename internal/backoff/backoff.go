// Package backoff provides the exponential delay schedule shared by the
// request executor's retry paths.
package backoff

import (
	"context"
	"math"
	"time"
)

// Delay returns the pause before retry number attempt (starting at 0):
// base * 2^attempt, capped at max. A non-positive max means no cap.
func Delay(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
// Returns ctx.Err() when the context ended the wait.
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
