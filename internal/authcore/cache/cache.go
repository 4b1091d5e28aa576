// Package cache is the pluggable key-value cache the core depends on
// abstractly. The concrete technology (redis, in-process memory) is a
// composition-root decision.
package cache

import (
	"context"
	"time"
)

// Cache is a small get/set/clear interface. Implementations must be safe for
// concurrent use. A cache miss is (_, false, nil), never an error.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}
