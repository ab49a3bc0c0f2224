// Package lock provides the claim locks that keep a due trigger or task from
// being dispatched by more than one scheduler instance.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
)

// ErrInvalidTTL is returned for non-positive lock lifetimes.
var ErrInvalidTTL = errors.New("lock ttl must be positive")

// Locker claims keys for a bounded time. Acquire reports false when another
// holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	clock clock.Clock
	mu    sync.Mutex
	held  map[string]time.Time
}

// NewLocal creates an in-process locker using clk for expiry.
func NewLocal(clk clock.Clock) *Local {
	if clk == nil {
		clk = clock.System{}
	}

	return &Local{clock: clk, held: make(map[string]time.Time)}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	for k, expiresAt := range l.held {
		if !expiresAt.After(now) {
			delete(l.held, k)
		}
	}

	if _, taken := l.held[key]; taken {
		return false, nil
	}

	l.held[key] = now.Add(ttl)

	return true, nil
}
