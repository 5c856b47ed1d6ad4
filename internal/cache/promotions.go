package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/tokopos/promo-engine/internal/domain/promo"
)

var _ promo.Repository = (*CachedPromotions)(nil)

// CachedPromotions decorates a promo.Repository with a read-through snapshot
// cache for the auto-apply path, the only query hit on every code-less
// evaluation. Keys are bucketed per minute so a snapshot is reused within the
// bucket and naturally refreshed across it; code lookups and per-promotion
// rule loads stay uncached because they are single-row reads on the code path.
type CachedPromotions struct {
	inner promo.Repository
	store Snapshots
	ttl   time.Duration
}

// NewCachedPromotions wraps inner with the given snapshot store and TTL.
func NewCachedPromotions(inner promo.Repository, store Snapshots, ttl time.Duration) *CachedPromotions {
	return &CachedPromotions{inner: inner, store: store, ttl: ttl}
}

// FindByCode delegates to the wrapped repository.
func (c *CachedPromotions) FindByCode(ctx context.Context, code string) (*promo.Promotion, error) {
	return c.inner.FindByCode(ctx, code)
}

// FindAutoApply returns the cached snapshot for the current minute bucket,
// falling back to the wrapped repository and caching the result. Cache
// failures degrade to a direct read; they never fail the evaluation.
func (c *CachedPromotions) FindAutoApply(ctx context.Context, now time.Time) (*promo.Snapshot, error) {
	key := snapshotKey(now)

	if data, err := c.store.Get(ctx, key); err == nil {
		var snap promo.Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
	} else if !errors.Is(err, ErrMiss) {
		return c.inner.FindAutoApply(ctx, now)
	}

	snap, err := c.inner.FindAutoApply(ctx, now)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		_ = c.store.Set(ctx, key, data, c.ttl)
	}

	return snap, nil
}

// FindProductRules delegates to the wrapped repository.
func (c *CachedPromotions) FindProductRules(ctx context.Context, promotionID string) ([]promo.ProductRule, error) {
	return c.inner.FindProductRules(ctx, promotionID)
}

// FindBundleRules delegates to the wrapped repository.
func (c *CachedPromotions) FindBundleRules(ctx context.Context, promotionID string) ([]promo.BundleRule, error) {
	return c.inner.FindBundleRules(ctx, promotionID)
}

// snapshotKey buckets snapshot keys per minute so all evaluations within the
// bucket share one cache entry.
func snapshotKey(now time.Time) string {
	return "promo:auto:" + now.UTC().Truncate(time.Minute).Format("200601021504")
}
