// Package ratelimit implements a fixed-window request counter keyed by
// client identifier. State lives in process memory, so limits are
// best-effort and not shared between running instances.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type window struct {
	count int
	ends  time.Time
}

// Limiter counts requests per client key within a fixed time window.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window

	windowSize  time.Duration
	maxRequests int

	now func() time.Time // overridable for tests
}

// New creates a Limiter allowing maxRequests per windowSize per client key.
func New(windowSize time.Duration, maxRequests int) *Limiter {
	return &Limiter{
		clients:     make(map[string]*window),
		windowSize:  windowSize,
		maxRequests: maxRequests,
		now:         time.Now,
	}
}

// Allow records a request from the given client key and reports whether it
// is within the limit. When the limit is exceeded it returns the number of
// seconds until the client's window resets, rounded up and at least 1.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.clients[key]
	if !ok || now.After(w.ends) {
		l.clients[key] = &window{count: 1, ends: now.Add(l.windowSize)}
		return true, 0
	}

	w.count++
	if w.count > l.maxRequests {
		retryAfter := int(math.Ceil(w.ends.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	return true, 0
}
