package telegram

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time for the limiter so waits can be observed in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// RateLimiter controls the frequency of requests to Telegram API.
type RateLimiter struct {
	// main limiter: default 2/sec
	limiter *rate.Limiter

	// additional backoff after FLOOD_WAIT
	floodWaitUntil time.Time
	mu             sync.Mutex

	clock Clock
}

// NewRateLimiter creates a rate limiter for Telegram.
// rps - requests per second (recommended 1-2 for safe browsing, 15-20 for scraping)
// burst - allowed burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		clock:   RealClock,
	}
}

// DefaultRateLimiter returns a limiter with conservative settings.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2.0, 1)
}

// WithClock replaces the clock used for flood waits and pauses.
func (r *RateLimiter) WithClock(c Clock) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
	return r
}

// Wait blocks until the next request is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.WaitFlood(ctx); err != nil {
		return err
	}
	return r.limiter.Wait(ctx)
}

// WaitFlood blocks until an active flood wait has elapsed.
func (r *RateLimiter) WaitFlood(ctx context.Context) error {
	r.mu.Lock()
	waitUntil := r.floodWaitUntil
	clock := r.clock
	r.mu.Unlock()

	now := clock.Now()
	if now.Before(waitUntil) {
		if err := clock.Sleep(ctx, waitUntil.Sub(now)); err != nil {
			return err
		}
	}
	return nil
}

// SetFloodWait sets a pause after a FLOOD_WAIT error.
func (r *RateLimiter) SetFloodWait(seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.floodWaitUntil = r.clock.Now().Add(time.Duration(seconds) * time.Second)
}

// Sleep pauses on the limiter's clock.
func (r *RateLimiter) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	clock := r.clock
	r.mu.Unlock()
	return clock.Sleep(ctx, d)
}
