// Package ratelimit bounds outbound send attempts to a fixed number per
// rolling window. One Limiter instance is shared by every concurrent chunk
// worker in the process, because the provider's quota is global to the bot
// credential. The limiter is injected explicitly; there is no package-level
// singleton.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Limiter admits at most limit acquisitions per rolling window. It keeps a
// log of admission timestamps; an admission only stops counting once it is
// a full window old, so no sliding 60s span ever sees more than limit
// admissions.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	clock  Clock

	// turn serializes waiters so slots are handed out in roughly
	// submission order instead of a thundering-herd race.
	turn chan struct{}
}

// New builds a limiter with the wall clock.
func New(limit int, window time.Duration) *Limiter {
	return NewWithClock(limit, window, systemClock{})
}

// NewWithClock builds a limiter with an injected clock.
func NewWithClock(limit int, window time.Duration, clock Clock) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{
		limit:  limit,
		window: window,
		clock:  clock,
		turn:   make(chan struct{}, 1),
	}
}

// Allow reports whether a slot is free right now and claims it if so.
func (l *Limiter) Allow() bool {
	ok, _ := l.reserve()
	return ok
}

// Wait blocks until a slot is acquired or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		ok, retryIn := l.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve claims a slot when available. When the window is full it returns
// how long until the oldest admission leaves the window.
func (l *Limiter) reserve() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	keep := l.stamps[:0]
	for _, t := range l.stamps {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.stamps = keep

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return true, 0
	}

	retryIn := l.stamps[0].Sub(cutoff)
	if retryIn <= 0 {
		retryIn = time.Millisecond
	}
	return false, retryIn
}

// InFlight returns the number of admissions still inside the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.clock.Now().Add(-l.window)
	n := 0
	for _, t := range l.stamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
