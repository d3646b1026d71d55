package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

type Cache interface {
	GetCache(key string) ([]byte, error)
	SetCache(key string, data []byte, ttl time.Duration) error
	DeleteCache(key string) error
}

// CachedProvider memoizes set listings, which change rarely and are read on
// every queue seed. Card pages and batch lookups always go upstream.
type CachedProvider struct {
	Provider
	cache    Cache
	cacheTTL time.Duration
}

func NewCachedProvider(provider Provider, cache Cache, cacheTTL time.Duration) *CachedProvider {
	return &CachedProvider{
		Provider: provider,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func setsCacheKey(provider, game string) string {
	return fmt.Sprintf("sets:%s:%s", provider, game)
}

func (c *CachedProvider) ListSets(ctx context.Context, game string) ([]domain.Set, error) {
	cacheKey := setsCacheKey(c.Name(), game)

	data, err := c.cache.GetCache(cacheKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var sets []domain.Set
		if err := json.Unmarshal(data, &sets); err == nil {
			return sets, nil
		}
	}

	sets, err := c.Provider.ListSets(ctx, game)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sets); err == nil {
		_ = c.cache.SetCache(cacheKey, data, c.cacheTTL)
	}

	return sets, nil
}

// Invalidate drops the cached set listing for game.
func (c *CachedProvider) Invalidate(game string) error {
	return c.cache.DeleteCache(setsCacheKey(c.Name(), game))
}
