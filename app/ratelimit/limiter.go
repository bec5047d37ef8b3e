package ratelimit

import (
	"sync"
	"time"
)

// Status is a point-in-time snapshot of the sliding window.
type Status struct {
	Current       int `json:"current"`
	Max           int `json:"max"`
	WindowSeconds int `json:"window_seconds"`
	Remaining     int `json:"remaining"`
	NextSlotIn    int `json:"next_slot_in"` // seconds until a slot frees, 0 when one is free
}

// Limiter is a sliding-window admission controller. Check is a non-mutating
// peek used early in the pipeline; Consume takes a slot and is called only
// immediately before an actual outbound send, so rejected candidates never
// waste capacity.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	events []time.Time
	now    func() time.Time
}

func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Check reports whether a slot is currently available without consuming one.
func (l *Limiter) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune()
	return len(l.events) < l.max
}

// Consume atomically prunes stale events and records the send when under
// capacity. Returns false when the window is full.
func (l *Limiter) Consume() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune()
	if len(l.events) >= l.max {
		return false
	}

	l.events = append(l.events, l.now())
	return true
}

// Status returns the current window occupancy and the wait until the next
// slot frees up.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune()

	status := Status{
		Current:       len(l.events),
		Max:           l.max,
		WindowSeconds: int(l.window.Seconds()),
		Remaining:     l.max - len(l.events),
	}

	if status.Remaining <= 0 && len(l.events) > 0 {
		// Oldest event leaving the window frees the next slot.
		freeAt := l.events[0].Add(l.window)
		wait := freeAt.Sub(l.now())
		if wait < 0 {
			wait = 0
		}
		status.NextSlotIn = int(wait.Seconds()) + 1
	}

	return status
}

// prune drops events older than the window. Caller holds the lock.
func (l *Limiter) prune() {
	cutoff := l.now().Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events = kept
}
