package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	data      []byte
	expiresAt time.Time
}

// LRUCache is an in-process Cache bounded by entry count.
type LRUCache struct {
	entries *lru.Cache[string, lruEntry]
}

// NewLRUCache creates an LRUCache holding at most size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = 256
	}
	entries, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

// Get implements Cache.
func (c *LRUCache) Get(ctx context.Context, key string, value interface{}) error {
	entry, ok := c.entries.Get(key)
	if !ok {
		return ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return ErrNotFound
	}
	return json.Unmarshal(entry.data, value)
}

// Set implements Cache.
func (c *LRUCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := lruEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.entries.Add(key, entry)
	return nil
}

// Delete implements Cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Flush implements Cache.
func (c *LRUCache) Flush(ctx context.Context) error {
	c.entries.Purge()
	return nil
}
