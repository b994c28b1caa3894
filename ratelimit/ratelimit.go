// Package ratelimit implements a per-origin token bucket that adapts its
// fill rate to 429/503 responses.
//
// The token bucket itself is golang.org/x/time/rate.Limiter; this package
// adds the per-origin map and the adaptive-rate bookkeeping on top of it.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/firasghr/chromefp/cferrors"
)

// FloorRate is the minimum steady-state rate an origin can be throttled
// down to by repeated backoff.
const FloorRate = 0.1

// goodStreakForIncrease is the number of consecutive non-429/503 responses
// required before the rate climbs back up.
const goodStreakForIncrease = 64

// Limiter tracks one adaptive token bucket per origin (scheme://host:port
// or whatever string the caller chooses as the origin key -- the pipeline
// package uses the request's host).
type Limiter struct {
	mu            sync.Mutex
	origins       map[string]*originBucket
	configuredRPS float64
	burst         int
}

type originBucket struct {
	mu              sync.Mutex
	limiter         *rate.Limiter
	currentRPS      float64
	consecutiveGood int
}

// New returns a Limiter whose origins start at ratePerSecond with the given
// burst capacity. Every origin's rate independently adapts from there but
// never exceeds ratePerSecond (the "ceiling = configured rate" rule).
func New(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{
		origins:       make(map[string]*originBucket),
		configuredRPS: ratePerSecond,
		burst:         burst,
	}
}

func (l *Limiter) bucketFor(origin string) *originBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.origins[origin]
	if !ok {
		b = &originBucket{
			limiter:    rate.NewLimiter(rate.Limit(l.configuredRPS), l.burst),
			currentRPS: l.configuredRPS,
		}
		l.origins[origin] = b
	}
	return b
}

// Acquire blocks until a token is available for origin, ctx is cancelled,
// or deadline (if non-zero) elapses. A request that is still waiting for a
// token has not yet consumed one: a request blocked waiting for a permit
// does not hold a ticket. x/time/rate.Limiter.Wait already implements
// exactly this FIFO-on-token-arrival semantic internally via its own
// reservation queue.
func (l *Limiter) Acquire(ctx context.Context, origin string, deadline time.Time) error {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	b := l.bucketFor(origin)
	if err := b.limiter.Wait(ctx); err != nil {
		return &cferrors.DeadlineExceededError{Op: "ratelimit.Acquire(" + origin + ")"}
	}
	return nil
}

// OnResponse feeds a completed request's status code back into the
// adaptive controller for origin: 429 or 503 halves the current rate (not
// below FloorRate) and resets the good-response streak; any other status
// extends the streak and, once it reaches goodStreakForIncrease, raises the
// rate by 10% (not above the Limiter's configured ceiling) and resets the
// streak.
func (l *Limiter) OnResponse(origin string, statusCode int) {
	b := l.bucketFor(origin)

	b.mu.Lock()
	defer b.mu.Unlock()

	if statusCode == 429 || statusCode == 503 {
		b.currentRPS = b.currentRPS * 0.5
		if b.currentRPS < FloorRate {
			b.currentRPS = FloorRate
		}
		b.consecutiveGood = 0
		b.limiter.SetLimit(rate.Limit(b.currentRPS))
		return
	}

	b.consecutiveGood++
	if b.consecutiveGood >= goodStreakForIncrease {
		b.currentRPS = b.currentRPS * 1.1
		if b.currentRPS > l.configuredRPS {
			b.currentRPS = l.configuredRPS
		}
		b.consecutiveGood = 0
		b.limiter.SetLimit(rate.Limit(b.currentRPS))
	}
}

// CurrentRate returns origin's current steady-state rate, for tests and
// RateLimitAdjusted event payloads.
func (l *Limiter) CurrentRate(origin string) float64 {
	b := l.bucketFor(origin)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentRPS
}
