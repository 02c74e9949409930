package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resultCache is the optional LRU over Search results, keyed by a hash
// of (normalized query, filters, flags) with a fixed TTL. It is
// strictly opt-in: callers that never enable it pay
// no locking or hashing cost.
type resultCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	c, _ := lru.New[string, cacheEntry](capacity)
	return &resultCache{cache: c, ttl: ttl}
}

func (c *resultCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache.Get(key)
	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, cacheEntry{result: result, expiresAt: time.Now().Add(c.ttl)})
}

// cacheKey hashes the normalized query plus the flags and filters that
// affect its result set.
func cacheKey(q Query) string {
	raw := fmt.Sprintf("%s|%d|%s|%.4f|%s|%d|%d|%v|%.4f|%t|%t|%s",
		q.Text, q.Limit, q.Mode, *q.Alpha, q.Filters.Source,
		q.Filters.YearLow, q.Filters.YearHigh, q.Filters.Sections,
		q.Filters.QualityThreshold, q.BoostRecent, q.BoostClinical, q.Return)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
