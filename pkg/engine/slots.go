package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var errCancelledWhileQueued = errors.New("cancelled while waiting for a slot")

// slots is a keyed counting semaphore with FIFO hand-over. Each key has its
// own queue so a busy workflow never delays an unrelated one.
type slots struct {
	mu      sync.Mutex
	running map[string]int
	waiters map[string][]chan struct{}
}

func newSlots() *slots {
	return &slots{
		running: make(map[string]int),
		waiters: make(map[string][]chan struct{}),
	}
}

// acquire blocks until a slot for key is free, ctx ends or cancel is closed.
// A non-positive limit means unlimited.
func (s *slots) acquire(ctx context.Context, key string, limit int, cancel <-chan struct{}) error {
	s.mu.Lock()

	if limit <= 0 || (s.running[key] < limit && len(s.waiters[key]) == 0) {
		s.running[key]++
		s.mu.Unlock()

		return nil
	}

	ready := make(chan struct{})
	s.waiters[key] = append(s.waiters[key], ready)
	s.mu.Unlock()

	var cause error

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-cancel:
		cause = errCancelledWhileQueued
	}

	s.mu.Lock()
	queue := s.waiters[key]

	if i := slices.Index(queue, ready); i >= 0 {
		s.waiters[key] = slices.Delete(queue, i, i+1)
		if len(s.waiters[key]) == 0 {
			delete(s.waiters, key)
		}

		s.mu.Unlock()

		return cause
	}

	s.mu.Unlock()

	// The slot was handed over while we were giving up; pass it on.
	s.release(key)

	return cause
}

// release frees a slot, handing it directly to the oldest waiter.
func (s *slots) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queue := s.waiters[key]; len(queue) > 0 {
		next := queue[0]

		s.waiters[key] = queue[1:]
		if len(s.waiters[key]) == 0 {
			delete(s.waiters, key)
		}

		close(next)

		return
	}

	s.running[key]--
	if s.running[key] <= 0 {
		delete(s.running, key)
	}
}

// inUse reports the slots held for key.
func (s *slots) inUse(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running[key]
}

// queued reports how many callers wait for key.
func (s *slots) queued(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.waiters[key])
}
