package httpx

import (
	"context"
	"time"
)

// UploadRetrySchedule is the delay before each retry of a chunk upload: one
// immediate retry, then 3s, 5s, 10s and 20s.
var UploadRetrySchedule = Schedule{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// Schedule lists retry delays. The initial attempt is not part of it.
type Schedule []time.Duration

// Attempts is the initial attempt plus one retry per entry.
func (s Schedule) Attempts() int { return len(s) + 1 }

// Delay returns the wait before retry i (0-based) and false past the end.
func (s Schedule) Delay(i int) (time.Duration, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return s[i], true
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
