// ratelimit.go implements a token-bucket limiter for the Gamma API's
// /events endpoint, which Warm pages through at startup and on refresh.
// Gamma doesn't publish a hard per-window limit, but a continuous-refill
// bucket keeps the warm pass from bursting the same number of requests a
// retry storm would, without needing a fixed sleep between pages.
package market

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a token-bucket rate limiter with continuous refill.
// Callers block in wait() until a token is available or the context is
// cancelled.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// newTokenBucket creates a rate limiter with the given burst capacity and
// refill rate.
func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// wait blocks until a token is available or ctx is cancelled.
func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		waitFor := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitFor):
		}
	}
}

// gammaEventsLimiter caps /events pagination at a burst of 10 requests,
// refilling at 5/sec — well under any reasonable public-API budget.
func newGammaEventsLimiter() *tokenBucket {
	return newTokenBucket(10, 5)
}
