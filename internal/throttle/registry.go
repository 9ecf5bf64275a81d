package throttle

import (
	"context"
	"strings"
	"time"
)

// Registry spaces deliveries to the same recipient by at least one window.
//
// Acquire blocks until no other holder owns the recipient and the window since
// the last successful send has elapsed. The check, the wait, the send and the
// MarkSent call all happen under the returned lease, so two dispatches to the
// same recipient cannot both pass the window check.
type Registry interface {
	Acquire(ctx context.Context, recipient string) (Lease, error)
}

// Lease is exclusive ownership of one recipient's send slot.
type Lease interface {
	// Waited is the time Acquire spent honoring the window.
	Waited() time.Duration
	// MarkSent records a successful delivery at the given time.
	MarkSent(ctx context.Context, at time.Time) error
	// Release gives the slot back. Calling it more than once is a no-op.
	Release(ctx context.Context) error
}

// RemainingWait returns how long a sender must still wait before the window
// since lastSent has elapsed. A zero lastSent means the recipient has never
// been sent to.
func RemainingWait(now, lastSent time.Time, window time.Duration) time.Duration {
	if lastSent.IsZero() || window <= 0 {
		return 0
	}
	elapsed := now.Sub(lastSent)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Key normalizes a recipient identifier for use as a registry key.
func Key(recipient string) string {
	return strings.TrimSpace(recipient)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
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
