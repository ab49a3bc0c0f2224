// Package clock provides the time source used by the scheduler and the engine.
package clock

import (
	"sync"
	"time"
)

// Clock is the only component that knows "now".
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is a Clock backed by the wall clock, always reporting UTC.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Fake is a manually driven Clock for tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	at := f.now.Add(d)

	if d <= 0 {
		ch <- f.now

		return ch
	}

	f.waiters = append(f.waiters, waiter{at: at, ch: ch})

	return ch
}

// Advance moves the clock forward and releases every waiter that became due.
func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// Set moves the clock to t and releases every waiter that became due.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = t

	pending := f.waiters[:0]

	for _, w := range f.waiters {
		if !w.at.After(t) {
			w.ch <- t

			continue
		}

		pending = append(pending, w)
	}

	f.waiters = pending
}

// Waiters reports how many After channels are still pending.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.waiters)
}
