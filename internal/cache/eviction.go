package cache

import "sort"

// EvictionOrder returns residents ordered least valuable first: highest
// priority number first, and among equal priorities the oldest first.
// The input slice is not modified.
func EvictionOrder[K comparable](residents []Resident[K]) []Resident[K] {
	ordered := make([]Resident[K], len(residents))
	copy(ordered, residents)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].LoadedAt.Before(ordered[j].LoadedAt)
	})
	return ordered
}

// cleanupLocked evicts entries until at most Capacity remain and returns the
// evicted residents. c.mu must be held for writing.
func (c *PrefetchCache[K, V]) cleanupLocked() []Resident[K] {
	excess := len(c.entries) - c.opts.Capacity
	if excess <= 0 {
		return nil
	}

	victims := EvictionOrder(c.residentsLocked())[:excess]
	for _, r := range victims {
		delete(c.entries, r.Key)
	}
	c.stats.Evictions += uint64(len(victims))
	return victims
}

func (c *PrefetchCache[K, V]) residentsLocked() []Resident[K] {
	out := make([]Resident[K], 0, len(c.entries))
	for key, e := range c.entries {
		out = append(out, Resident[K]{Key: key, Priority: e.priority, LoadedAt: e.loadedAt})
	}
	return out
}
