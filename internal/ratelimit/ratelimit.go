// Package ratelimit implements a per-client token bucket. Thread-safe, no
// background goroutines: buckets refill lazily on each Allow call and
// stale buckets are pruned opportunistically.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// staleAfter is how long an untouched bucket survives before pruning.
const staleAfter = 10 * time.Minute

// Config configures the token bucket limiter.
type Config struct {
	RequestsPerMinute int // tokens added per minute, 0 = unlimited
	BurstSize         int // maximum bucket capacity, 0 = RequestsPerMinute
}

// Limiter hands out one token per request from a per-client bucket, so
// one noisy client cannot exhaust another's quota.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter. A zero RequestsPerMinute disables limiting.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		clients: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
	}
}

// Allow consumes one token for the client, or returns ErrRateLimited when
// the bucket is empty.
func (l *Limiter) Allow(clientID string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.clients[clientID]
	if !ok {
		// First request starts with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.clients[clientID] = b
		l.pruneLocked(now)
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// pruneLocked drops buckets idle long enough to be full again anyway.
// Caller holds the mutex.
func (l *Limiter) pruneLocked(now time.Time) {
	for id, b := range l.clients {
		if now.Sub(b.lastFill) > staleAfter {
			delete(l.clients, id)
		}
	}
}
