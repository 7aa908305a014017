package mailfetch

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter for calls into the mail capability.
// The default Graph adapter is configured for 10 requests/second with a
// burst of 10, matching Graph's documented per-mailbox throttling budget.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	minInterval time.Duration

	mutex       sync.Mutex
	requests    []time.Time
	lastRequest time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window, with an
// additional minInterval floor between consecutive requests for burst
// smoothing.
func NewRateLimiter(maxRequests int, window, minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		minInterval: minInterval,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// DefaultGraphRateLimiter matches Graph's per-mailbox throttling budget: 10
// requests/second, burst 10.
func DefaultGraphRateLimiter() *RateLimiter {
	return NewRateLimiter(10, time.Second, 0)
}

// Allow reports whether a request may proceed now, and if not, how long to
// wait.
func (rl *RateLimiter) Allow() (bool, time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()

	if !rl.lastRequest.IsZero() {
		if since := now.Sub(rl.lastRequest); since < rl.minInterval {
			return false, rl.minInterval - since
		}
	}

	rl.cleanupOldRequests(now)

	if len(rl.requests) >= rl.maxRequests {
		oldest := rl.requests[0]
		if wait := rl.window - now.Sub(oldest); wait > 0 {
			return false, wait
		}
	}

	rl.requests = append(rl.requests, now)
	rl.lastRequest = now
	return true, 0
}

// Wait blocks until a request is allowed or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, wait := rl.Allow()
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (rl *RateLimiter) cleanupOldRequests(now time.Time) {
	cutoff := now.Add(-rl.window)
	start := 0
	for i, t := range rl.requests {
		if t.After(cutoff) {
			start = i
			break
		}
		start = i + 1
	}
	if start > 0 {
		rl.requests = rl.requests[start:]
	}
}
