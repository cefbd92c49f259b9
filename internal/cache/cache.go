// Package cache memoizes selector results against the current state
// snapshot.
//
// Selector dependencies are not tracked, so the owner clears the whole cache
// on every committed write. Entries older than the TTL are reported as
// misses even before they are evicted.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/docstate/internal/clock"
	"github.com/roach88/docstate/internal/ir"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTTL        = 5 * time.Second
	DefaultMaxEntries = 256
)

// Entry is one memoized selector result.
type Entry struct {
	Value     ir.IRValue
	Timestamp time.Time
}

// Stats are cumulative counters for diagnostics. Clear does not reset them.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// Options configures a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

// Cache is a TTL + LRU memo keyed by selector key.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	clk  clock.Clock
	ttl  time.Duration
	max  int
	mu   sync.Mutex
	byID map[string]*list.Element
	lru  *list.List // front = most recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type item struct {
	key   string
	entry Entry
}

// New creates a cache on clk.
func New(clk clock.Clock, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		clk:  clk,
		ttl:  opts.TTL,
		max:  opts.MaxEntries,
		byID: make(map[string]*list.Element),
		lru:  list.New(),
	}
}

// Get returns the entry for key if it is younger than the TTL.
// An expired entry is removed and counted as a miss.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byID[key]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	it := el.Value.(*item)
	if c.clk.Now().Sub(it.entry.Timestamp) >= c.ttl {
		c.removeLocked(el)
		c.misses.Add(1)
		return Entry{}, false
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return it.entry, true
}

// Put stores value under key with the current time, evicting the least
// recently used entry when the cache is full.
func (c *Cache) Put(key string, value ir.IRValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{Value: value, Timestamp: c.clk.Now()}
	if el, ok := c.byID[key]; ok {
		el.Value.(*item).entry = entry
		c.lru.MoveToFront(el)
		return
	}

	c.byID[key] = c.lru.PushFront(&item{key: key, entry: entry})
	for c.lru.Len() > c.max {
		c.removeLocked(c.lru.Back())
		c.evictions.Add(1)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	delete(c.byID, el.Value.(*item).key)
	c.lru.Remove(el)
}
