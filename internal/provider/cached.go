package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/patrickmn/go-cache"
)

// Cached memoizes non-empty results of a Searcher per case-folded query.
// Errors and empty results pass through uncached so fallback still happens.
type Cached struct {
	inner Searcher
	cache *cache.Cache
}

// NewCached wraps inner with a TTL cache. A ttl <= 0 defaults to ten minutes.
func NewCached(inner Searcher, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{inner: inner, cache: cache.New(ttl, ttl*2)}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Search(ctx context.Context, q model.Query, limit int) ([]model.ImageResult, error) {
	key := cacheKey(q, limit)
	if v, ok := c.cache.Get(key); ok {
		return copyResults(v.([]model.ImageResult)), nil
	}

	results, err := c.inner.Search(ctx, q, limit)
	if err != nil || len(results) == 0 {
		return results, err
	}
	c.cache.Set(key, copyResults(results), cache.DefaultExpiration)
	return results, nil
}

func cacheKey(q model.Query, limit int) string {
	return strings.ToLower(strings.TrimSpace(q.Theme)) + "\x00" +
		strings.ToLower(strings.TrimSpace(q.Location)) + "\x00" + strconv.Itoa(limit)
}

func copyResults(in []model.ImageResult) []model.ImageResult {
	out := make([]model.ImageResult, len(in))
	copy(out, in)
	return out
}
