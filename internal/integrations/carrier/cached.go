package carrier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/FreightDesk/internal/cache"
	"github.com/BearBump/FreightDesk/internal/models"
)

const carriersCacheKey = "carriers:list"

// CachedDirectory keeps the last successful, non-empty directory answer in the cache.
// The cache is best-effort: any cache error falls through to the wrapped directory.
type CachedDirectory struct {
	next  Directory
	cache cache.BytesCache
	ttl   time.Duration
}

func NewCachedDirectory(next Directory, c cache.BytesCache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, cache: c, ttl: ttl}
}

func (d *CachedDirectory) ListCarriers(ctx context.Context) ([]models.Carrier, error) {
	if d.cache != nil && d.ttl > 0 {
		if b, ok, err := d.cache.Get(ctx, carriersCacheKey); err == nil && ok {
			var cs []models.Carrier
			if json.Unmarshal(b, &cs) == nil && len(cs) > 0 {
				return cs, nil
			}
		}
	}

	cs, err := d.next.ListCarriers(ctx)
	if err != nil {
		return nil, err
	}

	if d.cache != nil && d.ttl > 0 && len(cs) > 0 {
		b, _ := json.Marshal(cs)
		if err := d.cache.Set(ctx, carriersCacheKey, b, d.ttl); err != nil {
			slog.Debug("carrier cache set", "error", err.Error())
		}
	}
	return cs, nil
}
