// Package catalog resolves the product a tag belongs to, read-through cached
// in Redis.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TagGuard/internal/cache"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/pkg/errors"
)

type Store interface {
	ProductByEPC(ctx context.Context, epc string) (*models.Product, error)
}

type Catalog struct {
	store Store
	cache cache.BytesCache
	ttl   time.Duration
}

func New(store Store, c cache.BytesCache, ttl time.Duration) *Catalog {
	return &Catalog{store: store, cache: c, ttl: ttl}
}

// cached wraps the product so a known-unmapped EPC is cached too.
type cached struct {
	Product *models.Product `json:"product"`
}

// Lookup returns models.ErrNotFound when the tag has no product. Cache
// failures fall back to the store.
func (c *Catalog) Lookup(ctx context.Context, epc string) (*models.Product, error) {
	epc = strings.ToUpper(epc)
	useCache := c.cache != nil && c.ttl > 0

	if useCache {
		b, ok, err := c.cache.Get(ctx, key(epc))
		if err != nil {
			slog.Warn("product cache get", "epc", epc, "error", err.Error())
		}
		var v cached
		if ok && json.Unmarshal(b, &v) == nil {
			if v.Product == nil {
				return nil, models.ErrNotFound
			}
			return v.Product, nil
		}
	}

	p, err := c.store.ProductByEPC(ctx, epc)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if useCache {
		b, _ := json.Marshal(cached{Product: p})
		if err := c.cache.Set(ctx, key(epc), b, c.ttl); err != nil {
			slog.Warn("product cache set", "epc", epc, "error", err.Error())
		}
	}
	if p == nil {
		return nil, models.ErrNotFound
	}
	return p, nil
}

// Invalidate drops the cached entry after a tag is (re)assigned.
func (c *Catalog) Invalidate(ctx context.Context, epc string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, key(strings.ToUpper(epc)))
}

func key(epc string) string {
	return "product:epc:" + epc
}
