// Package cache provides the keyed TTL store used for webhook replay
// detection, rate limiting and checkout locks.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Store interface {
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments a counter; the window starts with the first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Del(ctx context.Context, key string) error
	// DelIfValue deletes key only while it still holds value and reports
	// whether it did.
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}
