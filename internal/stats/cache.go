package stats

import (
	"sync"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
)

type entry struct {
	stats     orchestrator.ResourceStats
	updatedAt time.Time
}

// Cache holds the latest resource sample each container reported, keyed by
// container ref. It lives for the process lifetime and is never persisted.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	maxAge  time.Duration
	now     func() time.Time
}

// NewCache returns a cache whose entries go stale after maxAge. A zero maxAge
// keeps entries until they are deleted.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Update merges the metrics present in s into the entry for ref.
func (c *Cache) Update(ref string, s orchestrator.ResourceStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[ref]
	if s.CPUPercent != nil {
		v := *s.CPUPercent
		e.stats.CPUPercent = &v
	}
	if s.MemoryMB != nil {
		v := *s.MemoryMB
		e.stats.MemoryMB = &v
	}
	if s.MemoryPercent != nil {
		v := *s.MemoryPercent
		e.stats.MemoryPercent = &v
	}
	e.updatedAt = c.now()
	c.entries[ref] = e
}

// Get returns a copy of the entry for ref and when it was last updated.
func (c *Cache) Get(ref string) (*orchestrator.ResourceStats, time.Time, bool) {
	c.mu.RLock()
	e, ok := c.entries[ref]
	c.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false
	}
	if c.maxAge > 0 && c.now().Sub(e.updatedAt) > c.maxAge {
		return nil, time.Time{}, false
	}
	s := e.stats
	return &s, e.updatedAt, true
}

func (c *Cache) Delete(ref string) {
	c.mu.Lock()
	delete(c.entries, ref)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Prune drops stale entries and returns how many were removed.
func (c *Cache) Prune() int {
	if c.maxAge <= 0 {
		return 0
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for ref, e := range c.entries {
		if now.Sub(e.updatedAt) > c.maxAge {
			delete(c.entries, ref)
			removed++
		}
	}
	return removed
}
