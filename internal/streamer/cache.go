// Package streamer implements the range-streamed read path: a
// chunk-aligned LRU block cache, single-flight coalescing of in-flight
// fetches, a speculative read-ahead prefetcher, and the read assembler
// the filesystem driver calls into.
package streamer

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// chunkKey identifies one cached chunk: the resolved URL and the
// chunk-aligned byte offset.
type chunkKey struct {
	url    string
	offset int64
}

func (k chunkKey) String() string {
	return fmt.Sprintf("%s#%d", k.url, k.offset)
}

// BlockCache is a bounded strict-LRU map from chunk key to bytes.
// Lookups and insertions both count as accesses; Contains does not.
// Entries are immutable once inserted. The cache never performs I/O.
type BlockCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[chunkKey, []byte]
	bytes int64
}

// NewBlockCache creates a cache holding at most slots resident chunks.
func NewBlockCache(slots int) (*BlockCache, error) {
	c := &BlockCache{}
	inner, err := lru.NewWithEvict(slots, func(key chunkKey, value []byte) {
		c.bytes -= int64(len(value))
		mCacheEvictions.Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("create block cache with %d slots: %w", slots, err)
	}
	c.lru = inner
	return c, nil
}

// Get returns the chunk bytes and refreshes its recency.
func (c *BlockCache) Get(key chunkKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put inserts a chunk, evicting the least-recently-used entry when full.
func (c *BlockCache) Put(key chunkKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.bytes -= int64(len(old))
	}
	c.bytes += int64(len(data))
	c.lru.Add(key, data)
}

// Contains reports presence without touching recency.
func (c *BlockCache) Contains(key chunkKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Len returns the number of resident chunks.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the total size of resident chunks.
func (c *BlockCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// HighestOffset returns the highest cached chunk offset for url.
func (c *BlockCache) HighestOffset(url string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var highest int64
	found := false
	for _, key := range c.lru.Keys() {
		if key.url != url {
			continue
		}
		if !found || key.offset > highest {
			highest = key.offset
		}
		found = true
	}
	return highest, found
}
