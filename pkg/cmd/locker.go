package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/lock"
)

// NewLocker returns the Redis locker when redisURL is set and the in-process
// locker otherwise. The returned close function is never nil.
func NewLocker(ctx context.Context, redisURL string, clk clock.Clock) (lock.Locker, func() error, error) {
	if redisURL == "" {
		return lock.NewLocal(clk), func() error { return nil }, nil
	}

	owner, err := os.Hostname()
	if err != nil {
		owner = "autoflow"
	}

	locker, err := lock.NewRedisFromURL(ctx, redisURL, fmt.Sprintf("%s-%d", owner, os.Getpid()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return locker, locker.Close, nil
}
