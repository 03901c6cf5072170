package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache is the bounded in-process L1 tier. Eviction is strict LRU
// over recency of touch, ties broken by insertion order via the eviction
// list. All operations are O(1) expected and never suspend.
type MemoryCache[V any] struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*memoryItem[V]
	evictList  *list.List

	// Statistics, updated under mu so counts stay exact.
	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	// now is the clock; replaced in tests to exercise TTL expiry.
	now func() time.Time
}

type memoryItem[V any] struct {
	entry   Entry[V]
	element *list.Element
}

// listKey is the value stored in eviction list elements.
type listKey struct {
	key string
}

// MemoryCacheConfig configures the L1 tier.
type MemoryCacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefaultMemoryCacheConfig returns the default L1 configuration.
func DefaultMemoryCacheConfig() *MemoryCacheConfig {
	return &MemoryCacheConfig{
		MaxEntries: 10000,
		DefaultTTL: 5 * time.Minute,
	}
}

// NewMemoryCache creates a new in-process LRU cache.
func NewMemoryCache[V any](config *MemoryCacheConfig) *MemoryCache[V] {
	if config == nil {
		config = DefaultMemoryCacheConfig()
	}
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	return &MemoryCache[V]{
		maxEntries: maxEntries,
		items:      make(map[string]*memoryItem[V]),
		evictList:  list.New(),
		now:        time.Now,
	}
}

// Get retrieves a value. Present and unexpired entries have their recency
// and access count updated; expired entries are removed and reported
// absent.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		c.misses++
		return zero, false
	}

	now := c.now()
	if item.entry.IsExpired(now) {
		c.removeItem(key)
		c.expirations++
		c.misses++
		return zero, false
	}

	item.entry.Touch(now)
	c.evictList.MoveToFront(item.element)
	c.hits++
	return item.entry.Value, true
}

// Set inserts or overwrites a value. A ttl of zero means the entry never
// expires. When the cache is over capacity the least-recently-touched
// entries are evicted until it fits.
func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if item, exists := c.items[key]; exists {
		item.entry.Value = value
		item.entry.CreatedAt = now
		item.entry.LastAccessed = now
		item.entry.TTL = ttl
		c.evictList.MoveToFront(item.element)
		return
	}

	element := c.evictList.PushFront(&listKey{key: key})
	c.items[key] = &memoryItem[V]{
		entry: Entry[V]{
			Value:        value,
			CreatedAt:    now,
			LastAccessed: now,
			TTL:          ttl,
		},
		element: element,
	}

	for len(c.items) > c.maxEntries && c.evictList.Len() > 0 {
		c.evictOldest()
	}
}

// Delete removes a key. Returns true if the key was present.
func (c *MemoryCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.items[key]
	if exists {
		c.removeItem(key)
	}
	return exists
}

// Len returns the current entry count.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Contains reports presence without touching recency or counters.
func (c *MemoryCache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return false
	}
	return !item.entry.IsExpired(c.now())
}

// PurgeExpired removes all expired entries and returns how many were
// dropped. Called from the optimization pass, never from the hot path.
func (c *MemoryCache[V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expiredKeys []string
	for key, item := range c.items {
		if item.entry.IsExpired(now) {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		c.removeItem(key)
		c.expirations++
	}
	return len(expiredKeys)
}

// Probe round-trips a synthetic entry through the map and eviction list
// under the lock, then removes it before releasing the lock. It never
// evicts real entries and never touches the hit/miss counters, so health
// sweeps leave capacity and metrics exactly as they found them.
func (c *MemoryCache[V]) Probe(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	element := c.evictList.PushFront(&listKey{key: key})
	c.items[key] = &memoryItem[V]{
		entry: Entry[V]{
			Value:        value,
			CreatedAt:    now,
			LastAccessed: now,
		},
		element: element,
	}

	_, ok := c.items[key]
	c.removeItem(key)
	return ok
}

// Clear removes all entries.
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*memoryItem[V])
	c.evictList.Init()
}

// Stats returns a snapshot of the tier's counters.
func (c *MemoryCache[V]) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return MemoryStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Entries:     len(c.items),
		MaxEntries:  c.maxEntries,
	}
}

// MemoryStats holds L1 tier counters.
type MemoryStats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Entries     int    `json:"entries"`
	MaxEntries  int    `json:"max_entries"`
}

// removeItem removes a key from the map and eviction list. Caller holds mu.
func (c *MemoryCache[V]) removeItem(key string) {
	item, exists := c.items[key]
	if !exists {
		return
	}
	if item.element != nil {
		c.evictList.Remove(item.element)
	}
	delete(c.items, key)
}

// evictOldest drops the least-recently-touched entry. Caller holds mu.
func (c *MemoryCache[V]) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	lk := element.Value.(*listKey)
	c.removeItem(lk.key)
	c.evictions++
}
