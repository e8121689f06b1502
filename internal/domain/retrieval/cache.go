package retrieval

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheEntry is one cached retrieval outcome. It keeps both the raw
// candidate set (pre-rerank) and the finished result: an identical
// (query, filters, language) request reuses the result wholesale, while the
// same query with different filters reuses the candidates and reranks fresh,
// still skipping embedding and vector search.
type cacheEntry struct {
	candidates []Chunk
	result     Result
	filtersKey string
}

// resultCache is a TTL'd LRU keyed by query fingerprint. Reads are
// concurrent; the engine coalesces writes-on-miss via singleflight.
type resultCache struct {
	lru *expirable.LRU[string, cacheEntry]
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &resultCache{lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl)}
}

func (c *resultCache) get(fingerprint string) (cacheEntry, bool) {
	return c.lru.Get(fingerprint)
}

func (c *resultCache) put(fingerprint string, entry cacheEntry) {
	c.lru.Add(fingerprint, entry)
}

// purge drops every entry. Called when the underlying index has received a
// new document batch and all cached evidence may be stale.
func (c *resultCache) purge() {
	c.lru.Purge()
}

func (c *resultCache) len() int {
	return c.lru.Len()
}
