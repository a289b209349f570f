package remote

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the in-memory screenshot cache.
const DefaultCacheSize = 50

// ScreenshotCache keeps recently downloaded blobs in memory so repeated UI
// requests do not hit the network. Each backend instance owns one.
type ScreenshotCache struct {
	lru *lru.Cache[string, []byte]
}

// NewScreenshotCache builds a cache holding up to size blobs; size <= 0
// falls back to DefaultCacheSize.
func NewScreenshotCache(size int) *ScreenshotCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		// lru.New only fails on a non-positive size, which is guarded above.
		panic(err)
	}
	return &ScreenshotCache{lru: cache}
}

// Get returns the cached blob for a remote id, if present.
func (c *ScreenshotCache) Get(remoteID string) ([]byte, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	return c.lru.Get(remoteID)
}

// Put stores a blob under its remote id, evicting the least recently used
// entry when full.
func (c *ScreenshotCache) Put(remoteID string, data []byte) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(remoteID, data)
}

// Len reports the number of cached blobs.
func (c *ScreenshotCache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
