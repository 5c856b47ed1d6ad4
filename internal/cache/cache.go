// Package cache provides a TTL-bounded read-through cache for the auto-apply
// rule snapshot. Evaluation stays a pure read: the cache only short-circuits
// the snapshot fetch, it never changes its content.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrMiss is returned when a key is not present in the cache.
var ErrMiss = errors.New("cache miss")

// Snapshots stores serialized rule snapshots under string keys.
type Snapshots interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}
