package syncer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer owns every delay of a run.
type Pacer interface {
	// Wait blocks until another remote call may be issued.
	Wait(ctx context.Context) error

	// Pause blocks for d or until ctx is done.
	Pause(ctx context.Context, d time.Duration) error
}

// RatePacer spaces remote calls with a token bucket and sleeps for pauses.
type RatePacer struct {
	limiter *rate.Limiter
}

// NewRatePacer allows perMinute calls per minute with a burst of one.
// perMinute <= 0 removes the cap.
func NewRatePacer(perMinute int) *RatePacer {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RatePacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait implements Pacer.
func (p *RatePacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Pause implements Pacer.
func (p *RatePacer) Pause(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep waits for d unless ctx ends first.
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

// NopPacer never waits. Dry runs against the in-memory remote use it.
type NopPacer struct{}

// Wait implements Pacer.
func (NopPacer) Wait(ctx context.Context) error { return ctx.Err() }

// Pause implements Pacer.
func (NopPacer) Pause(ctx context.Context, d time.Duration) error { return ctx.Err() }
