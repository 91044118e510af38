// Package server provides the token bucket used to throttle both
// per-connection message floods and repeated authentication attempts from a
// single client address.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously at burst/interval
// tokens per second. allow is safe for concurrent use.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	burst    float64
	perSec   float64
	lastFill time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:   float64(burst),
		burst:    float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		lastFill: time.Now(),
	}
}

// allow consumes one token, reporting false when the bucket is empty.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.lastFill).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.perSec, rl.burst)
	}
	rl.lastFill = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
