package retry

import (
	"context"
	"time"
)

// Sleep waits for the duration to elapse (returns nil) or for the context to
// close (returns its error), whichever happens first. Non-positive durations
// return immediately.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
