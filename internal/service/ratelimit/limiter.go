// Package ratelimit throttles send attempts per identity with a sliding window.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Default window parameters: at most two admits per second per identity.
const (
	DefaultLimit  = 2
	DefaultWindow = time.Second
)

// Limiter tracks, per identity, the timestamps of recently admitted requests.
// A single mutex covers all identities; the critical section is a short
// in-memory prune and append.
type Limiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New returns a limiter admitting at most limit requests per window for each
// identity. Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow admits or rejects an attempt by identity at now. Entries at least one
// window old are dropped first; a rejection leaves the history untouched.
func (l *Limiter) Allow(identity string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.hits[identity], now, l.window)
	if len(recent) >= l.limit {
		l.hits[identity] = recent
		return false
	}
	l.hits[identity] = append(recent, now)
	return true
}

// Sweep forgets identities with no admits inside the window and returns how
// many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, times := range l.hits {
		recent := prune(times, now, l.window)
		if len(recent) == 0 {
			delete(l.hits, id)
			removed++
			continue
		}
		l.hits[id] = recent
	}
	return removed
}

// Tracked returns the number of identities with a stored window.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Message is the client-facing rejection text.
func (l *Limiter) Message() string {
	per := "second"
	if l.window != time.Second {
		per = l.window.String()
	}
	return fmt.Sprintf("At most %d send_message calls may be invoked every %s", l.limit, per)
}

// prune keeps timestamps strictly younger than window relative to now,
// filtering in place.
func prune(times []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}
