package supervisor

import (
	"context"
	"time"
)

const maxBackoffShift = 32

// backoffDelay returns min(base * 2^(attempt-1), ceiling) for attempt >= 1.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := base << shift
	if delay <= 0 || delay > ceiling {
		return ceiling
	}

	return delay
}

// sleep waits for d but returns early with the context's error if it is
// cancelled first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
