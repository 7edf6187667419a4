/*
Package cache keeps the images around the current viewing position resident
in memory so that paging forwards or backwards is instant.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│                 Session                     │
	│     (navigation, background preloads)       │
	└─────────────────────────────────────────────┘
	                      │ SetPosition / Preload
	┌─────────────────────────────────────────────┐
	│             PrefetchCache                   │  ← This Package
	│   • priority = distance to position         │
	│   • wrap-around neighbourhood window        │
	│   • eviction down to capacity               │
	│   • generation tagging of batches           │
	└─────────────────────────────────────────────┘
	                      │ Fetch(ctx, key)
	┌─────────────────────────────────────────────┐
	│               Fetcher                       │
	│  (circuit breaker → disk backend)           │
	└─────────────────────────────────────────────┘

# Priorities and Eviction

Every resident entry carries a priority, the distance between its key and
the current position. Zero is the image being viewed; larger numbers are
evicted first. SetPosition recomputes priorities on the linear ordering,
while Preload assigns the wrap-around distance of the window offset.

After every Preload the cache evicts until at most Capacity entries remain.
Candidates are ordered by priority descending and, among equal priorities,
by load time ascending, so an older image goes before a newer one at the
same distance. EvictionOrder exposes that ordering as a pure function.

# Batches

Preload fetches all missing neighbours concurrently:

	c := cache.New[string, *disk.Image](backend, cache.Options{
		Capacity:       11,
		PerItemTimeout: 5 * time.Second,
		BatchTimeout:   30 * time.Second,
	})

	if err := c.SetPosition(pos, paths); err != nil {
		return err
	}
	report := c.Preload(ctx)
	fmt.Printf("%s: %d fetched, %d evicted\n", report.Result, report.Fetched, report.Evicted)

A fetch that fails or exceeds PerItemTimeout is dropped. When BatchTimeout
fires, Preload stops waiting and continues with the results it has; late
results are never applied. Identical keys requested by overlapping batches
share a single read.

# Generations

SetPosition, Invalidate and Clear each start a new generation. A batch that
settles under an older generation discards every result it fetched, still
runs eviction, and reports BatchStale.
*/
package cache
