// Package ratelimit provides rate limiting and usage accounting for upstream
// API calls.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Token Bucket (lock-free)
// =============================================================================

// Limiter implements token bucket rate limiting using atomic operations.
type Limiter struct {
	tokens       int64
	maxTokens    int64
	refillRate   int64
	intervalNs   int64
	lastRefillNs int64
}

// NewLimiter creates a rate limiter allowing ratePerInterval calls per interval.
func NewLimiter(ratePerInterval int, interval time.Duration) *Limiter {
	tokens := int64(ratePerInterval)
	return &Limiter{
		tokens:       tokens,
		maxTokens:    tokens,
		refillRate:   tokens,
		intervalNs:   int64(interval),
		lastRefillNs: time.Now().UnixNano(),
	}
}

// Allow checks if a call is allowed, consuming a token when it is.
func (l *Limiter) Allow() bool {
	now := time.Now().UnixNano()
	intervalNs := atomic.LoadInt64(&l.intervalNs)
	lastRefill := atomic.LoadInt64(&l.lastRefillNs)

	elapsed := now - lastRefill
	if elapsed >= intervalNs {
		intervals := elapsed / intervalNs
		refillRate := atomic.LoadInt64(&l.refillRate)
		maxTokens := atomic.LoadInt64(&l.maxTokens)
		tokensToAdd := intervals * refillRate

		if atomic.CompareAndSwapInt64(&l.lastRefillNs, lastRefill, now) {
			for {
				current := atomic.LoadInt64(&l.tokens)
				newTokens := current + tokensToAdd
				if newTokens > maxTokens {
					newTokens = maxTokens
				}
				if atomic.CompareAndSwapInt64(&l.tokens, current, newTokens) {
					break
				}
			}
		}
	}

	for {
		current := atomic.LoadInt64(&l.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&l.tokens, current, current-1) {
			return true
		}
	}
}

// =============================================================================
// Usage Counter
// =============================================================================

// UsageCounter tracks per-key call counts within a rolling window. It is an
// operational cost guardrail, not a hard block: callers compare the returned
// count against their threshold and log.
type UsageCounter struct {
	mu     sync.Mutex
	window time.Duration
	counts map[string]*usageBucket
}

type usageBucket struct {
	count   int64
	startAt time.Time
}

// NewUsageCounter creates a counter with the given rolling window.
func NewUsageCounter(window time.Duration) *UsageCounter {
	return &UsageCounter{
		window: window,
		counts: make(map[string]*usageBucket),
	}
}

// Incr increments the count for key and returns the new count for the current
// window.
func (c *UsageCounter) Incr(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	b, ok := c.counts[key]
	if !ok || now.Sub(b.startAt) >= c.window {
		b = &usageBucket{startAt: now}
		c.counts[key] = b
	}
	b.count++
	return b.count
}

// Count returns the current window count for key.
func (c *UsageCounter) Count(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.counts[key]
	if !ok || time.Since(b.startAt) >= c.window {
		return 0
	}
	return b.count
}
