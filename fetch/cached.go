package fetch

import (
	"context"

	"github.com/sievelabs/sieve/cache"
)

// cachedBody is the cache value for a fetched page.
type cachedBody struct {
	Body     []byte `json:"body"`
	FinalURL string `json:"final_url"`
	Status   int    `json:"status"`
}

// CachedClient wraps a Client with read-through caching. Only requests with
// UseCache=true touch the cache; watch checks bypass it by construction.
type CachedClient struct {
	next  Client
	cache *cache.TwoTier[cachedBody]
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient creates the read-through wrapper.
func NewCachedClient(next Client, c *cache.TwoTier[cachedBody]) *CachedClient {
	return &CachedClient{next: next, cache: c}
}

// NewBodyCache builds the cache instance CachedClient consumes.
func NewBodyCache(remote cache.RemoteStore, breaker *cache.Breaker, cfg cache.Config) (*cache.TwoTier[cachedBody], error) {
	return cache.New[cachedBody](remote, breaker, cfg)
}

// Fetch serves from cache on a hit; on a miss it fetches with the cached
// entry's conditional hints and stores successful bodies. A 304 refreshes
// nothing but re-serves the cached body.
func (c *CachedClient) Fetch(ctx context.Context, req Request) (*Result, error) {
	if !req.UseCache || c.cache == nil {
		return c.next.Fetch(ctx, req)
	}

	key := cacheKey(req)
	if entry, ok := c.cache.Get(ctx, key); ok {
		return &Result{
			Body:         entry.Value.Body,
			FinalURL:     entry.Value.FinalURL,
			Status:       entry.Value.Status,
			FromCache:    true,
			ETag:         entry.ETag,
			LastModified: entry.LastModified,
			Hash:         entry.ContentHash,
			Changed:      false,
		}, nil
	}

	res, err := c.next.Fetch(ctx, req)
	if err != nil {
		return res, err
	}
	if res.Status < 300 && len(res.Body) > 0 {
		c.cache.Set(ctx, key, cachedBody{
			Body:     res.Body,
			FinalURL: res.FinalURL,
			Status:   res.Status,
		}, &cache.Meta{
			ETag:         res.ETag,
			LastModified: res.LastModified,
			ContentHash:  res.Hash,
		})
	}
	return res, nil
}

func cacheKey(req Request) string {
	return string(req.Mode) + ":" + req.URL
}
