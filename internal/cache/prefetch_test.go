package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
)

// recordingFetcher counts calls per key and delegates to fn.
type recordingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, key string) (string, error)
}

func newRecordingFetcher(fn func(ctx context.Context, key string) (string, error)) *recordingFetcher {
	if fn == nil {
		fn = func(_ context.Context, key string) (string, error) { return "payload:" + key, nil }
	}
	return &recordingFetcher{calls: make(map[string]int), fn: fn}
}

func (f *recordingFetcher) Fetch(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	f.calls[key]++
	f.mu.Unlock()
	return f.fn(ctx, key)
}

func (f *recordingFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *recordingFetcher) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for k := range f.calls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeMetrics struct {
	mu        sync.Mutex
	fetches   map[types.FetchOutcome]int
	batches   map[types.BatchResult]int
	evictions int
	stale     int
	resident  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		fetches: make(map[types.FetchOutcome]int),
		batches: make(map[types.BatchResult]int),
	}
}

func (m *fakeMetrics) RecordFetch(outcome types.FetchOutcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[outcome]++
}

func (m *fakeMetrics) RecordBatch(result types.BatchResult, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[result]++
}

func (m *fakeMetrics) RecordEvictions(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions += count
}

func (m *fakeMetrics) RecordStaleResults(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale += count
}

func (m *fakeMetrics) UpdateResident(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resident = count
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("img%02d.png", i)
	}
	return out
}

func put(c *PrefetchCache[string, string], key string, priority int, loadedAt time.Time) {
	c.entries[key] = &entry[string, string]{value: key, priority: priority, loadedAt: loadedAt}
}

func TestNew_Defaults(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{})

	assert.Equal(t, DefaultCapacity, c.Capacity())
	assert.Equal(t, DefaultPerItemTimeout, c.opts.PerItemTimeout)
	assert.Equal(t, DefaultBatchTimeout, c.opts.BatchTimeout)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(0), c.Generation())
}

func TestSetPosition(t *testing.T) {
	tests := []struct {
		name     string
		position int
		items    []string
		wantErr  bool
	}{
		{name: "first item", position: 0, items: keys(3)},
		{name: "last item", position: 2, items: keys(3)},
		{name: "empty items ignore position", position: 7, items: nil},
		{name: "negative position", position: -1, items: keys(3), wantErr: true},
		{name: "past the end", position: 3, items: keys(3), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New[string, string](newRecordingFetcher(nil), Options{})
			err := c.SetPosition(tt.position, tt.items)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPosition))
				assert.Equal(t, uint64(0), c.Generation(), "rejected call must not change state")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(1), c.Generation())
		})
	}
}

func TestSetPosition_CopiesItems(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{})
	items := keys(3)
	require.NoError(t, c.SetPosition(0, items))

	items[1] = "mutated"
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Equal(t, "img01.png", c.items[1])
}

func TestSetPosition_RefreshesPriorities(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{})
	items := keys(10)
	now := time.Now()
	put(c, items[0], 0, now)
	put(c, items[4], 0, now)
	put(c, items[9], 0, now)
	put(c, "gone.png", 3, now)

	require.NoError(t, c.SetPosition(6, items))

	got := map[string]int{}
	for _, r := range c.Snapshot() {
		got[r.Key] = r.Priority
	}
	assert.Equal(t, map[string]int{
		items[0]:   6,
		items[4]:   2,
		items[9]:   3,
		"gone.png": 3,
	}, got)
	assert.Equal(t, 4, c.Len(), "no fetch or eviction on SetPosition")
}

func TestSetPosition_DistanceIsLinear(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{})
	items := keys(5)
	put(c, items[4], 1, time.Now())

	require.NoError(t, c.SetPosition(0, items))

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 4, snap[0].Priority)
}

func TestPreload_EmptyItems(t *testing.T) {
	f := newRecordingFetcher(nil)
	c := New[string, string](f, Options{})
	require.NoError(t, c.SetPosition(0, nil))

	report := c.Preload(context.Background())

	assert.Equal(t, types.BatchEmpty, report.Result)
	assert.Equal(t, 0, report.Scheduled)
	assert.Equal(t, 0, f.total())
}

func TestPreload_WrapAroundNeighbourhood(t *testing.T) {
	f := newRecordingFetcher(nil)
	c := New[string, string](f, Options{Capacity: 5})
	items := keys(5)
	require.NoError(t, c.SetPosition(0, items))

	report := c.Preload(context.Background())

	assert.Equal(t, types.BatchComplete, report.Result)
	assert.Equal(t, []string{items[1], items[2], items[3], items[4]}, f.keys())
	assert.False(t, c.IsResident(items[0]), "current item is not part of the window")

	priorities := map[string]int{}
	for _, r := range c.Snapshot() {
		priorities[r.Key] = r.Priority
	}
	assert.Equal(t, map[string]int{items[4]: 1, items[1]: 1, items[3]: 2, items[2]: 2}, priorities)
}

func TestPreload_ShortListFetchesEachKeyOnce(t *testing.T) {
	f := newRecordingFetcher(nil)
	c := New[string, string](f, Options{Capacity: 11})
	items := keys(3)
	require.NoError(t, c.SetPosition(1, items))

	report := c.Preload(context.Background())

	assert.Equal(t, 2, report.Window)
	assert.Equal(t, 2, report.Scheduled)
	assert.Equal(t, 2, f.total())
	for _, r := range c.Snapshot() {
		assert.Equal(t, 1, r.Priority, r.Key)
	}
}

func TestPreload_NoDuplicateFetchForResident(t *testing.T) {
	f := newRecordingFetcher(nil)
	c := New[string, string](f, Options{Capacity: 5})
	items := keys(20)

	require.NoError(t, c.SetPosition(10, items))
	first := c.Preload(context.Background())
	require.Equal(t, 4, first.Fetched)
	require.Equal(t, 4, f.total())

	// One step forward: img09 and img12 stay in the window, img10 and img13 are new.
	require.NoError(t, c.SetPosition(11, items))
	second := c.Preload(context.Background())

	assert.Equal(t, 2, second.AlreadyResident)
	assert.Equal(t, 2, second.Scheduled)
	assert.Equal(t, 6, f.total())
	f.mu.Lock()
	for k, n := range f.calls {
		assert.Equal(t, 1, n, "key %s fetched more than once", k)
	}
	f.mu.Unlock()
	assert.LessOrEqual(t, c.Len(), 5)
}

func TestPreload_PartialFailureTolerated(t *testing.T) {
	items := keys(11)
	hang := map[string]bool{items[2]: true, items[7]: true}
	f := newRecordingFetcher(func(ctx context.Context, key string) (string, error) {
		if hang[key] {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return key, nil
	})
	c := New[string, string](f, Options{
		Capacity:       11,
		PerItemTimeout: 50 * time.Millisecond,
		BatchTimeout:   5 * time.Second,
	})
	require.NoError(t, c.SetPosition(0, items))

	report := c.Preload(context.Background())

	assert.Equal(t, 10, report.Scheduled)
	assert.Equal(t, 8, report.Fetched)
	assert.Equal(t, 2, report.TimedOut)
	assert.Equal(t, types.BatchPartial, report.Result)
	assert.Equal(t, 8, c.Len())
	assert.False(t, c.IsResident(items[2]))
	assert.False(t, c.IsResident(items[7]))
	assert.Equal(t, uint64(2), c.Stats().FetchTimeouts)
}

func TestPreload_FetchErrorsAreDropped(t *testing.T) {
	items := keys(5)
	f := newRecordingFetcher(func(_ context.Context, key string) (string, error) {
		if key == items[1] {
			return "", stderrors.New("corrupt image")
		}
		if key == items[4] {
			return "", errors.NewError(errors.ErrCodeItemNotFound, "gone")
		}
		return key, nil
	})
	m := newFakeMetrics()
	c := New[string, string](f, Options{Capacity: 5, Metrics: m})
	require.NoError(t, c.SetPosition(0, items))

	report := c.Preload(context.Background())

	assert.Equal(t, types.BatchPartial, report.Result)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 2, report.Fetched)
	assert.False(t, c.IsResident(items[1]))
	assert.False(t, c.IsResident(items[4]))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.fetches[types.FetchFailed])
	assert.Equal(t, 2, m.fetches[types.FetchSuccess])
	assert.Equal(t, 1, m.batches[types.BatchPartial])
	assert.Equal(t, 2, m.resident)
}

func TestPreload_BatchTimeoutAbandonsLateFetches(t *testing.T) {
	items := keys(5)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f := newRecordingFetcher(func(_ context.Context, key string) (string, error) {
		if key == items[2] {
			<-release
		}
		return key, nil
	})
	c := New[string, string](f, Options{
		Capacity:       5,
		PerItemTimeout: 10 * time.Second,
		BatchTimeout:   50 * time.Millisecond,
	})
	require.NoError(t, c.SetPosition(0, items))

	start := time.Now()
	report := c.Preload(context.Background())

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, types.BatchTimeout, report.Result)
	assert.Equal(t, 1, report.Abandoned)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.IsResident(items[2]))
	assert.Equal(t, uint64(1), c.Stats().Abandoned)
}

func TestPreload_CallerContextBoundsBatch(t *testing.T) {
	items := keys(3)
	f := newRecordingFetcher(func(ctx context.Context, key string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := New[string, string](f, Options{PerItemTimeout: 200 * time.Millisecond})
	require.NoError(t, c.SetPosition(0, items))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := c.Preload(ctx)

	assert.Equal(t, types.BatchTimeout, report.Result)
	assert.Equal(t, 2, report.Abandoned)
	assert.Equal(t, 0, c.Len())
}

func TestPreload_StaleGenerationDiscardsResults(t *testing.T) {
	items := keys(7)
	gate := make(chan struct{})
	started := make(chan struct{}, len(items))
	f := newRecordingFetcher(func(_ context.Context, key string) (string, error) {
		started <- struct{}{}
		<-gate
		return key, nil
	})
	m := newFakeMetrics()
	c := New[string, string](f, Options{Capacity: 5, Metrics: m})
	require.NoError(t, c.SetPosition(0, items))

	done := make(chan PreloadReport, 1)
	go func() { done <- c.Preload(context.Background()) }()

	<-started
	require.NoError(t, c.SetPosition(3, items))
	close(gate)

	var report PreloadReport
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("preload did not return")
	}

	assert.Equal(t, types.BatchStale, report.Result)
	assert.Equal(t, uint64(1), report.Generation)
	assert.Equal(t, 4, report.Stale)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().StaleBatches)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 4, m.stale)
}

func TestPreload_SupersededBatchHandsOverReads(t *testing.T) {
	items := keys(7)
	gate := make(chan struct{})
	started := make(chan string, 2*len(items))
	f := newRecordingFetcher(func(_ context.Context, key string) (string, error) {
		started <- key
		<-gate
		return key, nil
	})
	c := New[string, string](f, Options{Capacity: 5})
	require.NoError(t, c.SetPosition(0, items))

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan PreloadReport, 1)
	go func() { doneA <- c.Preload(ctxA) }()
	for i := 0; i < 4; i++ {
		<-started
	}

	// Moving one step keeps items[2] and items[6] in the window.
	require.NoError(t, c.SetPosition(1, items))
	cancelA()
	reportA := <-doneA
	assert.Equal(t, 4, reportA.Abandoned)

	doneB := make(chan PreloadReport, 1)
	go func() { doneB <- c.Preload(context.Background()) }()
	for i := 0; i < 2; i++ {
		<-started
	}
	close(gate)

	var reportB PreloadReport
	select {
	case reportB = <-doneB:
	case <-time.After(5 * time.Second):
		t.Fatal("preload did not return")
	}

	assert.Equal(t, types.BatchComplete, reportB.Result)
	assert.Equal(t, 4, reportB.Fetched)
	assert.ElementsMatch(t, []string{items[0], items[2], items[3], items[6]}, c.Keys())
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, n := range f.calls {
		assert.Equal(t, 1, n, "reads of %s", key)
	}
}

func TestInvalidate_MakesRunningBatchStale(t *testing.T) {
	items := keys(3)
	gate := make(chan struct{})
	started := make(chan struct{}, len(items))
	f := newRecordingFetcher(func(_ context.Context, key string) (string, error) {
		started <- struct{}{}
		<-gate
		return key, nil
	})
	c := New[string, string](f, Options{})
	require.NoError(t, c.SetPosition(0, items))

	done := make(chan PreloadReport, 1)
	go func() { done <- c.Preload(context.Background()) }()
	<-started

	gen := c.Invalidate()
	close(gate)
	report := <-done

	assert.Equal(t, uint64(2), gen)
	assert.Equal(t, types.BatchStale, report.Result)
	assert.Equal(t, 0, c.Len())
	pos, n := c.Position()
	assert.Equal(t, 0, pos)
	assert.Equal(t, 3, n, "invalidate keeps the snapshot")
}

func TestEvictionOrder_TieBreak(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(time.Second)
	residents := []Resident[string]{
		{Key: "newer", Priority: 3, LoadedAt: t2},
		{Key: "near", Priority: 1, LoadedAt: t3},
		{Key: "older", Priority: 3, LoadedAt: t1},
	}

	ordered := EvictionOrder(residents)

	got := make([]string, len(ordered))
	for i, r := range ordered {
		got[i] = r.Key
	}
	assert.Equal(t, []string{"older", "newer", "near"}, got)
	assert.Equal(t, "newer", residents[0].Key, "input is not reordered")
}

func TestCleanup_RemovesOldestOfEqualPriority(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{Capacity: 2})
	t1 := time.Now()
	put(c, "older", 3, t1)
	put(c, "newer", 3, t1.Add(time.Second))
	put(c, "near", 1, t1.Add(2*time.Second))

	c.mu.Lock()
	evicted := c.cleanupLocked()
	c.mu.Unlock()

	require.Len(t, evicted, 1)
	assert.Equal(t, "older", evicted[0].Key)
	assert.True(t, c.IsResident("newer"))
	assert.True(t, c.IsResident("near"))
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCleanup_NeverRemovesMoreImportantFirst(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{Capacity: 1})
	now := time.Now()
	put(c, "far", 3, now.Add(time.Hour))
	put(c, "farther", 4, now.Add(2*time.Hour))
	put(c, "near", 1, now)

	c.mu.Lock()
	evicted := c.cleanupLocked()
	c.mu.Unlock()

	assert.Len(t, evicted, 2)
	assert.Equal(t, []string{"near"}, c.Keys())
}

func TestPreload_CapacityInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	items := keys(40)
	f := newRecordingFetcher(func(_ context.Context, key string) (string, error) {
		if key == items[13] {
			return "", stderrors.New("unreadable")
		}
		return key, nil
	})
	c := New[string, string](f, Options{Capacity: 7})

	for step := 0; step < 100; step++ {
		pos := rng.Intn(len(items))
		require.NoError(t, c.SetPosition(pos, items))

		for _, r := range c.Snapshot() {
			idx := -1
			for i, k := range items {
				if k == r.Key {
					idx = i
					break
				}
			}
			require.Equal(t, abs(idx-pos), r.Priority, "step %d key %s", step, r.Key)
		}

		c.Preload(context.Background())
		require.LessOrEqual(t, c.Len(), 7, "step %d", step)
	}
}

func TestIsResident_Idempotent(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{Capacity: 3})
	items := keys(3)
	require.NoError(t, c.SetPosition(0, items))
	c.Preload(context.Background())

	before := c.Stats()
	snap := c.Snapshot()
	for _, k := range append(items, "missing") {
		first := c.IsResident(k)
		second := c.IsResident(k)
		assert.Equal(t, first, second, k)
	}
	assert.Equal(t, before, c.Stats())
	assert.ElementsMatch(t, snap, c.Snapshot())
}

func TestGet(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{Capacity: 3})
	items := keys(3)
	require.NoError(t, c.SetPosition(0, items))
	c.Preload(context.Background())

	v, ok := c.Get(items[1])
	assert.True(t, ok)
	assert.Equal(t, "payload:"+items[1], v)

	_, ok = c.Get(items[0])
	assert.False(t, ok)
}

func TestSnapshot_Ordering(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{})
	now := time.Now()
	put(c, "c", 2, now)
	put(c, "b", 1, now.Add(time.Second))
	put(c, "a", 1, now)
	put(c, "d", 0, now.Add(time.Minute))

	assert.Equal(t, []string{"d", "a", "b", "c"}, c.Keys())
	assert.Equal(t, 4, c.Len())
}

func TestClear(t *testing.T) {
	m := newFakeMetrics()
	c := New[string, string](newRecordingFetcher(nil), Options{Capacity: 5, Metrics: m})
	require.NoError(t, c.SetPosition(0, keys(5)))
	c.Preload(context.Background())
	require.Equal(t, 4, c.Len())

	c.Clear()

	assert.Equal(t, 0, c.Len())
	pos, n := c.Position()
	assert.Equal(t, 0, pos)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(2), c.Generation())
	m.mu.Lock()
	assert.Equal(t, 0, m.resident)
	m.mu.Unlock()

	report := c.Preload(context.Background())
	assert.Equal(t, types.BatchEmpty, report.Result)
}

func TestRemove(t *testing.T) {
	m := newFakeMetrics()
	f := newRecordingFetcher(nil)
	c := New[string, string](f, Options{Capacity: 5, Metrics: m})
	items := keys(5)
	require.NoError(t, c.SetPosition(0, items))
	c.Preload(context.Background())
	gen := c.Generation()

	assert.Equal(t, 1, c.Remove(items[1], "not-resident.png"))
	assert.False(t, c.IsResident(items[1]))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, gen+1, c.Generation())
	m.mu.Lock()
	assert.Equal(t, 3, m.resident)
	m.mu.Unlock()

	report := c.Preload(context.Background())
	assert.Equal(t, 1, report.Scheduled)
	assert.Equal(t, 2, f.calls[items[1]])
	assert.Equal(t, 0, c.Remove())
}

func TestStats(t *testing.T) {
	c := New[string, string](newRecordingFetcher(nil), Options{Capacity: 3})
	items := keys(6)
	require.NoError(t, c.SetPosition(0, items))
	c.Preload(context.Background())
	require.NoError(t, c.SetPosition(3, items))
	c.Preload(context.Background())

	stats := c.Stats()
	assert.Equal(t, 3, stats.Capacity)
	assert.Equal(t, 3, stats.Position)
	assert.Equal(t, 6, stats.Items)
	assert.Equal(t, uint64(2), stats.Generation)
	assert.Equal(t, uint64(2), stats.Batches)
	assert.Equal(t, uint64(4), stats.Fetches)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 3, stats.Resident)
}
