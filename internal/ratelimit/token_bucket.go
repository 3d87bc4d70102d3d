// Package ratelimit provides an in-memory token-bucket rate limiter keyed by
// client, used by the HTTP server to bound routing traffic per client IP.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter is a single token bucket.
type Limiter struct {
	mu         sync.Mutex
	clock      clock.Clock
	rate       float64 // tokens added per second
	burst      float64 // maximum token capacity
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// New creates a Limiter allowing ratePerSecond requests/s with a burst
// capacity. If burst <= 0, it defaults to ratePerSecond.
func New(ratePerSecond, burst float64) *Limiter {
	return newLimiter(ratePerSecond, burst, clock.New())
}

func newLimiter(ratePerSecond, burst float64, c clock.Clock) *Limiter {
	if burst <= 0 {
		burst = ratePerSecond
	}
	now := c.Now()
	return &Limiter{
		clock:      c,
		rate:       ratePerSecond,
		burst:      burst,
		tokens:     burst,
		lastRefill: now,
		lastSeen:   now,
	}
}

// Allow consumes one token and reports whether the request is permitted.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
	l.lastSeen = now

	if l.tokens >= 1.0 {
		l.tokens--
		return true
	}
	return false
}

func (l *Limiter) idleSince(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen.Before(cutoff)
}

// Store maintains per-key limiters sharing one rate/burst setting. Keys that
// stay idle are dropped by Prune so the map does not grow with every client
// ever seen.
type Store struct {
	mu       sync.RWMutex
	clock    clock.Clock
	limiters map[string]*Limiter
	rate     float64
	burst    float64
}

// NewStore creates a Store whose per-key limiters share the same rate/burst.
func NewStore(ratePerSecond, burst float64) *Store {
	return NewStoreWithClock(ratePerSecond, burst, clock.New())
}

// NewStoreWithClock is NewStore with an injected clock.
func NewStoreWithClock(ratePerSecond, burst float64, c clock.Clock) *Store {
	return &Store{
		clock:    c,
		limiters: make(map[string]*Limiter),
		rate:     ratePerSecond,
		burst:    burst,
	}
}

// Allow checks (and creates if needed) the limiter for key.
func (s *Store) Allow(key string) bool {
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l.Allow()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[key]; ok {
		return l.Allow()
	}
	l = newLimiter(s.rate, s.burst, s.clock)
	s.limiters[key] = l
	return l.Allow()
}

// Prune drops limiters idle for longer than maxIdle and returns how many
// were removed.
func (s *Store) Prune(maxIdle time.Duration) int {
	cutoff := s.clock.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, l := range s.limiters {
		if l.idleSince(cutoff) {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}
