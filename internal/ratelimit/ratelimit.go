// Package ratelimit implements an in-process sliding-window counter.
//
// The hub is a single-instance relay: its registries and limiters are
// process-local, so the window lives in memory rather than Redis. Denial is
// instantaneous: a denied operation is dropped with an error reply, never
// queued or retried server-side. State outlives the connection; an
// identity that disconnects and reconnects is still inside the same
// trailing window.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter bounds the number of operations per key within a trailing window.
type Limiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	hits      map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// New creates a limiter allowing max operations per key within window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether another operation is permitted for key right now.
// Timestamps older than the window are trimmed lazily on each call; a
// denied call does not record a timestamp, so denial never extends the
// window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	l.sweep(now, cutoff)

	hits := l.hits[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}

	l.hits[key] = append(kept, now)
	return true
}

// sweep drops keys whose every timestamp has aged out of the window, at
// most once per window. Keys must expire here rather than on disconnect:
// clearing state when a connection closes would let an identity reset its
// window by reconnecting. Caller holds the lock.
func (l *Limiter) sweep(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	for key, hits := range l.hits {
		idle := true
		for _, t := range hits {
			if t.After(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(l.hits, key)
		}
	}
}
