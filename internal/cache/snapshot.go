package cache

import (
	"sort"

	"github.com/project-AI39/artfave/pkg/types"
)

// Snapshot lists the resident entries by ascending priority, ties broken by
// load time (oldest first). It does not mutate the cache.
func (c *PrefetchCache[K, V]) Snapshot() []Resident[K] {
	c.mu.RLock()
	residents := c.residentsLocked()
	c.mu.RUnlock()

	sort.SliceStable(residents, func(i, j int) bool {
		if residents[i].Priority != residents[j].Priority {
			return residents[i].Priority < residents[j].Priority
		}
		return residents[i].LoadedAt.Before(residents[j].LoadedAt)
	})
	return residents
}

// Len returns the number of resident entries.
func (c *PrefetchCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the resident keys in Snapshot order.
func (c *PrefetchCache[K, V]) Keys() []K {
	snap := c.Snapshot()
	keys := make([]K, len(snap))
	for i, r := range snap {
		keys[i] = r.Key
	}
	return keys
}

// Stats returns cumulative counters and the current shape of the cache.
func (c *PrefetchCache[K, V]) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Resident = len(c.entries)
	stats.Capacity = c.opts.Capacity
	stats.Position = c.position
	stats.Items = len(c.items)
	stats.Generation = c.generation
	return stats
}
