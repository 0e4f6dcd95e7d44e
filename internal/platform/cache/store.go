// Package cache provides the ephemeral key/value store used for invitation
// records and cached user contexts.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Store interface {
	// Set stores value under key, replacing any previous value. A zero ttl
	// means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// CompareAndDelete removes key only if its current value equals expected.
	// It reports whether the delete happened. Concurrent callers with the same
	// expected value see at most one true.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments an integer counter, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}
