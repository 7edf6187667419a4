package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// PreloadReport summarises one Preload call.
type PreloadReport struct {
	Generation uint64            `json:"generation"`
	Position   int               `json:"position"`
	Result     types.BatchResult `json:"result"`

	// Window is the number of distinct neighbour keys considered.
	Window          int `json:"window"`
	AlreadyResident int `json:"already_resident"`
	Scheduled       int `json:"scheduled"`

	Fetched   int `json:"fetched"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Abandoned int `json:"abandoned"`
	Stale     int `json:"stale"`
	Evicted   int `json:"evicted"`

	Duration time.Duration `json:"duration"`
}

type task[K comparable] struct {
	key      K
	priority int
}

type fetchResult[K comparable, V any] struct {
	task[K]
	value       V
	err         error
	outcome     types.FetchOutcome
	duration    time.Duration
	completedAt time.Time
}

// Preload fetches the neighbours of the current position that are not yet
// resident and then evicts down to capacity.
//
// The window spans Capacity/2 positions on each side with wrap-around
// indexing. Resident neighbours only get their priority updated. The rest are
// fetched concurrently, each bounded by PerItemTimeout, the whole batch by
// BatchTimeout (or ctx, whichever ends first). Failed, timed out and abandoned
// fetches are dropped; Preload itself never fails.
//
// When the batch deadline fires, Preload stops waiting and never applies a
// late result. The underlying read keeps its own PerItemTimeout and may be
// picked up by a newer batch asking for the same key. If the generation
// changed while the batch ran, all of its results are discarded.
func (c *PrefetchCache[K, V]) Preload(ctx context.Context) PreloadReport {
	start := c.opts.Clock()
	report, tasks := c.plan()

	var results []fetchResult[K, V]
	if len(tasks) > 0 {
		results = c.runBatch(ctx, tasks)
	}

	c.apply(&report, results)
	report.Duration = c.opts.Clock().Sub(start)

	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordBatch(report.Result, report.Duration)
	}
	c.logReport(report)
	return report
}

// plan computes the neighbourhood, refreshes priorities of resident
// neighbours and returns the keys that need fetching.
func (c *PrefetchCache[K, V]) plan() (PreloadReport, []task[K]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := PreloadReport{
		Generation: c.generation,
		Position:   c.position,
		Result:     types.BatchEmpty,
	}
	n := len(c.items)
	if n == 0 {
		return report, nil
	}

	current := c.items[c.position]
	half := c.opts.Capacity / 2
	order := make([]K, 0, 2*half)
	best := make(map[K]int, 2*half)

	// Nearest offsets first so that a key reached twice through
	// wrap-around keeps its smallest distance.
	for d := 1; d <= half; d++ {
		for _, offset := range [2]int{-d, d} {
			key := c.items[wrap(c.position+offset, n)]
			if key == current {
				continue
			}
			if _, seen := best[key]; seen {
				continue
			}
			best[key] = d
			order = append(order, key)
		}
	}

	report.Window = len(order)
	tasks := make([]task[K], 0, len(order))
	for _, key := range order {
		if e, ok := c.entries[key]; ok {
			e.priority = best[key]
			report.AlreadyResident++
			continue
		}
		tasks = append(tasks, task[K]{key: key, priority: best[key]})
	}
	report.Scheduled = len(tasks)
	return report, tasks
}

// runBatch fans out one goroutine per task and waits for all of them. Each
// goroutine returns by its own deadline, so Wait returns by the batch deadline.
func (c *PrefetchCache[K, V]) runBatch(ctx context.Context, tasks []task[K]) []fetchResult[K, V] {
	batchCtx, cancel := context.WithTimeout(ctx, c.opts.BatchTimeout)
	defer cancel()

	results := make([]fetchResult[K, V], len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.fetchOne(batchCtx, t)
		}()
	}
	wg.Wait()
	return results
}

func (c *PrefetchCache[K, V]) fetchOne(batchCtx context.Context, t task[K]) fetchResult[K, V] {
	res := fetchResult[K, V]{task: t}
	start := c.opts.Clock()

	itemCtx, cancel := context.WithTimeout(batchCtx, c.opts.PerItemTimeout)
	defer cancel()

	fk := flightKey(t.key)
	ch := c.flight.DoChan(fk, func() (interface{}, error) {
		// Detached from the batch so that a superseded batch does not kill a
		// read a newer batch is waiting on.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(batchCtx), c.opts.PerItemTimeout)
		defer cancel()
		v, err := c.fetcher.Fetch(fetchCtx, t.key)
		return v, err
	})

	select {
	case r := <-ch:
		res.completedAt = c.opts.Clock()
		if r.Err != nil {
			res.outcome, res.err = classify(r.Err, t.key)
			break
		}
		res.value, _ = r.Val.(V)
		res.outcome = types.FetchSuccess
	case <-itemCtx.Done():
		res.completedAt = c.opts.Clock()
		if batchCtx.Err() != nil {
			// The read keeps running for whichever batch asks for the key next.
			res.outcome = types.FetchAbandoned
			res.err = errors.Wrap(batchCtx.Err(), errors.ErrCodeBatchTimeout, "batch deadline reached").
				WithComponent("prefetch").
				WithContext("key", fmt.Sprint(t.key))
		} else {
			// A fetcher that ignores its context must not pin the key forever.
			c.flight.Forget(fk)
			res.outcome = types.FetchTimeout
			res.err = errors.Newf(errors.ErrCodeFetchTimeout, "fetch exceeded %s", c.opts.PerItemTimeout).
				WithComponent("prefetch").
				WithContext("key", fmt.Sprint(t.key))
		}
	}
	res.duration = res.completedAt.Sub(start)
	return res
}

// classify maps a fetcher error onto the cache's taxonomy. Errors that
// already carry a code keep it.
func classify[K comparable](err error, key K) (types.FetchOutcome, error) {
	if stderrors.Is(err, context.DeadlineExceeded) || errors.HasCode(err, errors.ErrCodeFetchTimeout) {
		if errors.CodeOf(err) != "" {
			return types.FetchTimeout, err
		}
		return types.FetchTimeout, errors.Wrap(err, errors.ErrCodeFetchTimeout, "fetch timed out").
			WithComponent("prefetch").
			WithContext("key", fmt.Sprint(key))
	}
	if errors.CodeOf(err) != "" {
		return types.FetchFailed, err
	}
	return types.FetchFailed, errors.Wrap(err, errors.ErrCodeFetchFailed, "fetch failed").
		WithComponent("prefetch").
		WithContext("key", fmt.Sprint(key))
}

// apply inserts successful results (unless the batch went stale), evicts and
// records metrics. It runs on the caller's goroutine after the batch settled.
func (c *PrefetchCache[K, V]) apply(report *PreloadReport, results []fetchResult[K, V]) {
	c.mu.Lock()
	stale := c.generation != report.Generation

	for _, r := range results {
		c.stats.Fetches++
		switch r.outcome {
		case types.FetchSuccess:
			if stale {
				report.Stale++
				continue
			}
			report.Fetched++
			if e, ok := c.entries[r.key]; ok {
				// Landed through another batch meanwhile.
				if r.priority < e.priority {
					e.priority = r.priority
				}
				continue
			}
			c.entries[r.key] = &entry[K, V]{
				value:    r.value,
				loadedAt: r.completedAt,
				priority: r.priority,
			}
		case types.FetchTimeout:
			report.TimedOut++
			c.stats.FetchTimeouts++
		case types.FetchAbandoned:
			report.Abandoned++
			c.stats.Abandoned++
		default:
			report.Failed++
			c.stats.FetchFailures++
		}
	}

	evicted := c.cleanupLocked()
	report.Evicted = len(evicted)
	resident := len(c.entries)
	c.stats.Batches++
	if stale {
		c.stats.StaleBatches++
	}
	c.mu.Unlock()

	switch {
	case report.Scheduled == 0:
		report.Result = types.BatchEmpty
	case stale:
		report.Result = types.BatchStale
	case report.Abandoned > 0:
		report.Result = types.BatchTimeout
	case report.Failed > 0 || report.TimedOut > 0:
		report.Result = types.BatchPartial
	default:
		report.Result = types.BatchComplete
	}

	for _, r := range results {
		if r.err != nil {
			c.logger.Debug("fetch dropped", map[string]interface{}{
				"key":     fmt.Sprint(r.key),
				"outcome": string(r.outcome),
				"error":   r.err,
			})
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordFetch(r.outcome, r.duration)
		}
	}
	for _, ev := range evicted {
		c.logger.Debug("evicted", map[string]interface{}{
			"key":      fmt.Sprint(ev.Key),
			"priority": ev.Priority,
		})
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordEvictions(len(evicted))
		if report.Stale > 0 {
			c.opts.Metrics.RecordStaleResults(report.Stale)
		}
		c.opts.Metrics.UpdateResident(resident)
	}
}

func (c *PrefetchCache[K, V]) logReport(report PreloadReport) {
	c.logger.Info("preload finished", map[string]interface{}{
		"generation": report.Generation,
		"position":   report.Position,
		"result":     string(report.Result),
		"scheduled":  report.Scheduled,
		"fetched":    report.Fetched,
		"failed":     report.Failed + report.TimedOut + report.Abandoned,
		"evicted":    report.Evicted,
		"duration":   report.Duration.String(),
	})

	if c.logger.IsEnabled(utils.DEBUG) {
		for _, r := range c.Snapshot() {
			c.logger.Debug("resident", map[string]interface{}{
				"key":       fmt.Sprint(r.Key),
				"priority":  r.Priority,
				"loaded_at": r.LoadedAt.Format(time.RFC3339Nano),
			})
		}
	}
}

// wrap maps any index onto [0, n).
func wrap(i, n int) int {
	return ((i % n) + n) % n
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}
