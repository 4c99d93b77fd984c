package emotion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
)

type cacheEntry struct {
	result analysis.Result
	seq    uint64
}

// Cache is a bounded TTL cache keyed by a hash of the normalized text.
// When full, expired entries go first, then the oldest entry.
type Cache struct {
	mu         sync.Mutex
	items      *gocache.Cache
	maxEntries int
	seq        uint64
}

func NewCache(maxEntries int, ttl time.Duration) *Cache {
	expiration := ttl
	cleanup := ttl
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	} else if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Cache{
		items:      gocache.New(expiration, cleanup),
		maxEntries: maxEntries,
	}
}

// CacheKey lowercases text, collapses whitespace and hashes the result.
func CacheKey(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(text string) (analysis.Result, bool) {
	if c == nil {
		return analysis.Result{}, false
	}
	raw, ok := c.items.Get(CacheKey(text))
	if !ok {
		return analysis.Result{}, false
	}
	entry, ok := raw.(*cacheEntry)
	if !ok {
		return analysis.Result{}, false
	}
	return entry.result.Clone(), true
}

func (c *Cache) Set(text string, result analysis.Result) {
	if c == nil {
		return
	}
	key := CacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && c.items.ItemCount() >= c.maxEntries {
		if _, exists := c.items.Get(key); !exists {
			c.items.DeleteExpired()
			for c.items.ItemCount() >= c.maxEntries {
				if !c.evictOldest() {
					break
				}
			}
		}
	}

	c.seq++
	c.items.SetDefault(key, &cacheEntry{result: result.Clone(), seq: c.seq})
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.items.ItemCount()
}

func (c *Cache) evictOldest() bool {
	var (
		oldestKey string
		oldestSeq uint64
	)
	for key, item := range c.items.Items() {
		entry, ok := item.Object.(*cacheEntry)
		if !ok {
			c.items.Delete(key)
			return true
		}
		if oldestKey == "" || entry.seq < oldestSeq {
			oldestKey = key
			oldestSeq = entry.seq
		}
	}
	if oldestKey == "" {
		return false
	}
	c.items.Delete(oldestKey)
	return true
}
