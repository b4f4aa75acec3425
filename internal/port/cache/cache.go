// Package cache defines the port interface for caching.
// The engine caches subsystem health reports so coordination runs and the
// emergency monitor do not hammer subsystem status endpoints.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
