package chrono

import (
	"context"
	"time"
)

// API abstracts the passage of time so rate limiting, retry backoff and
// poll loops can be driven by a simulated clock in tests.
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it
	// returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

func (StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
