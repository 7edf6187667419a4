package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// Default values match the image browser: the current image plus five on each side,
// five seconds per image and thirty for a whole batch.
const (
	DefaultCapacity       = 11
	DefaultPerItemTimeout = 5 * time.Second
	DefaultBatchTimeout   = 30 * time.Second
)

// Options configures a PrefetchCache. Zero values select the defaults.
type Options struct {
	Capacity       int           `yaml:"capacity"`
	PerItemTimeout time.Duration `yaml:"per_item_timeout"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`

	Logger  *utils.StructuredLogger `yaml:"-"`
	Metrics types.MetricsCollector  `yaml:"-"`
	Clock   func() time.Time        `yaml:"-"`
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.PerItemTimeout <= 0 {
		o.PerItemTimeout = DefaultPerItemTimeout
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.Logger == nil {
		o.Logger = utils.NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Resident describes one resident entry without its payload.
type Resident[K comparable] struct {
	Key      K         `json:"key"`
	Priority int       `json:"priority"`
	LoadedAt time.Time `json:"loaded_at"`
}

type entry[K comparable, V any] struct {
	value    V
	loadedAt time.Time
	priority int
}

// PrefetchCache keeps the neighbours of the current position of an ordered
// item list resident in memory.
//
// Priorities are distances from the current position; lower is more
// important. After every Preload the number of entries is at most the
// capacity. Every SetPosition, Clear and Invalidate starts a new generation,
// and a batch that finishes under an older generation discards its results.
//
// All methods are safe for concurrent use, but position changes are expected
// to come from a single owner (see internal/session).
type PrefetchCache[K comparable, V any] struct {
	mu      sync.RWMutex
	fetcher types.Fetcher[K, V]
	opts    Options
	logger  *utils.StructuredLogger

	entries    map[K]*entry[K, V]
	items      []K
	index      map[K]int
	position   int
	generation uint64

	flight singleflight.Group
	stats  types.CacheStats
}

// New creates a prefetch cache that loads items through fetcher.
func New[K comparable, V any](fetcher types.Fetcher[K, V], opts Options) *PrefetchCache[K, V] {
	opts = opts.withDefaults()
	return &PrefetchCache[K, V]{
		fetcher: fetcher,
		opts:    opts,
		logger:  opts.Logger.WithComponent("prefetch"),
		entries: make(map[K]*entry[K, V]),
		index:   make(map[K]int),
	}
}

// Capacity returns the maximum number of resident entries.
func (c *PrefetchCache[K, V]) Capacity() int {
	return c.opts.Capacity
}

// SetPosition replaces the item ordering and the current position, then
// recomputes the priority of every resident entry as its linear distance to
// position. Entries whose key is not in items keep their old priority.
//
// An empty items slice is legal and clears adjacency. For non-empty items,
// position must be in range; otherwise nothing changes and an
// INVALID_POSITION error is returned. No fetch is started.
func (c *PrefetchCache[K, V]) SetPosition(position int, items []K) error {
	if len(items) > 0 && (position < 0 || position >= len(items)) {
		return errors.Newf(errors.ErrCodeInvalidPosition, "position %d out of range [0,%d)", position, len(items)).
			WithComponent("prefetch").
			WithOperation("set_position")
	}
	if len(items) == 0 {
		position = 0
	}

	snapshot := make([]K, len(items))
	copy(snapshot, items)
	index := make(map[K]int, len(snapshot))
	for i, key := range snapshot {
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = snapshot
	c.index = index
	c.position = position
	c.generation++
	c.refreshPrioritiesLocked()
	return nil
}

func (c *PrefetchCache[K, V]) refreshPrioritiesLocked() {
	for key, e := range c.entries {
		if idx, ok := c.index[key]; ok {
			e.priority = abs(idx - c.position)
		}
	}
}

// IsResident reports whether key is currently held. It has no side effects.
func (c *PrefetchCache[K, V]) IsResident(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Get returns the payload of a resident key. It has no side effects.
func (c *PrefetchCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Position returns the current position and the number of items in the snapshot.
func (c *PrefetchCache[K, V]) Position() (position, items int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position, len(c.items)
}

// Generation returns the current generation.
func (c *PrefetchCache[K, V]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Invalidate starts a new generation without touching entries or position,
// so that every batch still in flight discards its results.
func (c *PrefetchCache[K, V]) Invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

// Remove drops keys from the cache and returns how many were resident. It
// starts a new generation and forgets shared reads of those keys, so that
// no batch still running can put an older copy back.
func (c *PrefetchCache[K, V]) Remove(keys ...K) int {
	if len(keys) == 0 {
		return 0
	}

	c.mu.Lock()
	removed := 0
	for _, key := range keys {
		c.flight.Forget(flightKey(key))
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	c.generation++
	resident := len(c.entries)
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.UpdateResident(resident)
	}
	c.logger.Debug("entries removed", map[string]interface{}{"removed": removed})
	return removed
}

// Clear drops every entry and the item snapshot, e.g. when the folder changes.
func (c *PrefetchCache[K, V]) Clear() {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[K]*entry[K, V])
	c.items = nil
	c.index = make(map[K]int)
	c.position = 0
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.UpdateResident(0)
	}
	c.logger.Debug("cache cleared", map[string]interface{}{
		"dropped":    dropped,
		"generation": gen,
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
