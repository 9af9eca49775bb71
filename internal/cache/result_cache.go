package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// Stats are the running counters of the result cache.
type Stats struct {
	MemoryHits int64
	DiskHits   int64
	Misses     int64
	Stores     int64
}

// HitRate is the share of lookups served by either tier, in [0,1].
func (s Stats) HitRate() float64 {
	total := s.MemoryHits + s.DiskHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.DiskHits) / float64(total)
}

// ResultCache is a two-tier cache for expensive derived results: a memory
// LRU in front of an optional durable tier. It is shared by the whole
// process; every mutating operation takes one short-lived lock that is
// never held across tier I/O.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	stats    Stats

	durable DurableTier // nil disables the second tier
	now     func() time.Time
	log     *logger.Logger

	sweepOnce sync.Once
	stopCh    chan struct{}
}

type cacheItem struct {
	key   string
	entry Entry
}

// NewResultCache creates a cache with the given memory capacity and
// optional durable tier (nil for memory-only).
func NewResultCache(capacity int, durable DurableTier) *ResultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ResultCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		durable:  durable,
		now:      time.Now,
		log:      logger.New("result_cache"),
		stopCh:   make(chan struct{}),
	}
}

var (
	sharedCache *ResultCache
	sharedOnce  sync.Once
)

// Shared returns the process-wide cache instance. The first call
// constructs it; later calls ignore their arguments and return the same
// instance. Components receive it by injection, this accessor only exists
// for composition at startup.
func Shared(capacity int, durable DurableTier) *ResultCache {
	sharedOnce.Do(func() {
		sharedCache = NewResultCache(capacity, durable)
	})
	return sharedCache
}

// Get looks up key in the memory tier first, then in the durable tier.
// A durable hit that has not expired repopulates the memory tier; an
// expired durable entry is purged and reported as a miss. Get never fails:
// absence is just (nil, false).
func (c *ResultCache) Get(key string) (interface{}, bool) {
	now := c.now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		item := el.Value.(*cacheItem)
		if !item.entry.Expired(now) {
			c.ll.MoveToFront(el)
			c.stats.MemoryHits++
			v := item.entry.Value
			c.mu.Unlock()
			return v, true
		}
		// Expired in memory: drop it and fall through to the durable tier.
		c.removeLocked(el)
	}
	c.mu.Unlock()

	if c.durable == nil {
		c.miss()
		return nil, false
	}

	entry, ok := c.durable.Get(key)
	if !ok {
		c.miss()
		return nil, false
	}
	if entry.Expired(now) {
		c.durable.Delete(key)
		c.miss()
		return nil, false
	}

	// Promote to the memory tier for the next lookup.
	c.storeMemory(key, entry)
	c.mu.Lock()
	c.stats.DiskHits++
	c.mu.Unlock()
	return entry.Value, true
}

// Set stores the value in the memory tier and, when persist is true, in the
// durable tier as well. Durable write failures are logged and swallowed:
// the cache never fails its caller.
func (c *ResultCache) Set(key string, value interface{}, ttl time.Duration, persist bool) {
	entry := Entry{Value: value, CreatedAt: c.now(), TTL: ttl}

	c.storeMemory(key, entry)
	c.mu.Lock()
	c.stats.Stores++
	c.mu.Unlock()

	if persist && c.durable != nil {
		if err := c.durable.Set(key, entry); err != nil {
			c.log.Warn(fmt.Sprintf("durable cache write failed for %s: %v", key, err))
		}
	}
}

// Delete removes key from both tiers. It reports whether anything was
// removed from the memory tier.
func (c *ResultCache) Delete(key string) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()

	if c.durable != nil {
		c.durable.Delete(key)
	}
	return ok
}

// Stats returns a copy of the running counters.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of entries in the memory tier.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// StartSweeper launches the background goroutine that purges expired
// memory entries every interval. It is idempotent.
func (c *ResultCache) StartSweeper(interval time.Duration) {
	c.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := c.SweepExpired(); n > 0 {
						c.log.Debug(fmt.Sprintf("sweep removed %d expired entries", n))
					}
				case <-c.stopCh:
					return
				}
			}
		}()
	})
}

// Stop terminates the background sweeper.
func (c *ResultCache) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

// SweepExpired removes every expired memory entry and returns how many
// were dropped.
func (c *ResultCache) SweepExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*cacheItem).entry.Expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *ResultCache) miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// storeMemory inserts or refreshes an entry in the memory tier, evicting
// the least recently used entry on overflow.
func (c *ResultCache) storeMemory(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheItem).entry = entry
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheItem{key: key, entry: entry})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		if back := c.ll.Back(); back != nil {
			c.removeLocked(back)
		}
	}
}

// removeLocked unlinks an element. Caller must hold the lock.
func (c *ResultCache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*cacheItem).key)
}
