package autotune

import (
	"slices"
	"sync"
	"time"
)

// Entry is one tuning decision.
type Entry struct {
	Family Family
	Key    Key
	Index  int
	Name   string

	// Durations holds the median per candidate index, zero for candidates
	// that were ineligible or failed. Diagnostic only.
	Durations []time.Duration

	TunedAt time.Time
}

type cacheKey struct {
	family Family
	key    Key
}

// Cache is the in-memory decision map of one device. Entries are replaced
// whole under the lock, so readers never observe a partial entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]Entry)}
}

// Get returns a copy of the decision for key. Callers may modify it freely.
func (c *Cache) Get(family Family, key Key) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey{family, key}]
	c.mu.RUnlock()
	e.Durations = slices.Clone(e.Durations)
	return e, ok
}

// Put stores e, replacing any decision for the same key. Putting the same
// entry twice is a no-op.
func (c *Cache) Put(e Entry) {
	e.Durations = slices.Clone(e.Durations)
	c.mu.Lock()
	c.entries[cacheKey{e.Family, e.Key}] = e
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a snapshot ordered by key.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		e.Durations = slices.Clone(e.Durations)
		out = append(out, e)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Entry) int {
		return CompareKeys(a.Key, b.Key)
	})
	return out
}
