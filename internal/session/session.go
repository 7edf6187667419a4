package session

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/project-AI39/artfave/internal/cache"
	"github.com/project-AI39/artfave/internal/favorites"
	"github.com/project-AI39/artfave/internal/source"
	"github.com/project-AI39/artfave/internal/storage/disk"
	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// Options configures a Session.
type Options struct {
	Cache cache.Options

	// Watch refreshes the item list when the folder changes on disk.
	Watch    bool
	Debounce time.Duration

	Favorites *favorites.Store
	Logger    *utils.StructuredLogger

	// OnPreload, if set, receives every finished batch report.
	OnPreload func(cache.PreloadReport)
}

// Session is one browsing session over a folder of images. It owns the
// prefetch cache and keeps exactly one preload batch running in the
// background.
type Session struct {
	mu sync.Mutex

	dir     *source.Directory
	fetcher types.Fetcher[string, *disk.Image]
	cache   *cache.PrefetchCache[string, *disk.Image]
	opts    Options
	logger  *utils.StructuredLogger

	items    []string
	position int
	opened   bool
	closed   bool

	batchCancel context.CancelFunc
	batchDone   chan struct{}
	lastReport  cache.PreloadReport

	watcher     *source.Watcher
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New creates a session over dir. Nothing is listed or fetched until Open.
func New(dir *source.Directory, fetcher types.Fetcher[string, *disk.Image], opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = opts.Logger
	}
	return &Session{
		dir:     dir,
		fetcher: fetcher,
		cache:   cache.New[string, *disk.Image](fetcher, opts.Cache),
		opts:    opts,
		logger:  opts.Logger.WithComponent("session"),
	}
}

// Open lists the folder, positions at the first image and starts preloading.
// An empty folder is not an error; navigation reports EMPTY_SOURCE until the
// folder gains images.
func (s *Session) Open(ctx context.Context) error {
	dir := s.Dir()
	items, err := dir.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return closedError("open")
	}
	s.items = items
	s.position = 0
	s.opened = true
	if err := s.cache.SetPosition(0, items); err != nil {
		s.mu.Unlock()
		return err
	}
	s.startPreloadLocked()
	s.mu.Unlock()

	s.logger.Info("session opened", map[string]interface{}{
		"dir":   dir.Path(),
		"items": len(items),
	})

	if s.opts.Watch {
		if err := s.startWatcher(); err != nil {
			s.logger.Warn("folder watch disabled", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// Dir returns the folder being browsed.
func (s *Session) Dir() *source.Directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Cache exposes the prefetch cache for inspection.
func (s *Session) Cache() *cache.PrefetchCache[string, *disk.Image] {
	return s.cache
}

// Items returns a copy of the current item list.
func (s *Session) Items() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Current returns the current item and its position.
func (s *Session) Current() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("current"); err != nil {
		return "", 0, err
	}
	return s.items[s.position], s.position, nil
}

// Next moves to the following image, wrapping to the first.
func (s *Session) Next() (string, error) {
	return s.move("next", func(pos, n int) int { return (pos + 1) % n })
}

// Prev moves to the preceding image, wrapping to the last.
func (s *Session) Prev() (string, error) {
	return s.move("prev", func(pos, n int) int { return (pos - 1 + n) % n })
}

// Jump moves to position i.
func (s *Session) Jump(i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("jump"); err != nil {
		return "", err
	}
	if i < 0 || i >= len(s.items) {
		return "", errors.Newf(errors.ErrCodeInvalidPosition, "position %d out of range [0,%d)", i, len(s.items)).
			WithComponent("session").
			WithOperation("jump")
	}
	return s.navigateLocked(i)
}

// Find jumps to the image whose file name best matches query.
func (s *Session) Find(query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("find"); err != nil {
		return "", err
	}

	names := make([]string, len(s.items))
	for i, item := range s.items {
		names[i] = filepath.Base(item)
	}
	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return "", errors.Newf(errors.ErrCodeNoMatch, "no image matches %q", query).
			WithComponent("session").
			WithOperation("find")
	}
	return s.navigateLocked(matches[0].Index)
}

func (s *Session) move(op string, step func(pos, n int) int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(op); err != nil {
		return "", err
	}
	return s.navigateLocked(step(s.position, len(s.items)))
}

func (s *Session) navigateLocked(pos int) (string, error) {
	if err := s.cache.SetPosition(pos, s.items); err != nil {
		return "", err
	}
	s.position = pos
	s.startPreloadLocked()
	return s.items[pos], nil
}

// Image returns the current image, from the cache when resident, otherwise
// read on demand within the per-item timeout.
func (s *Session) Image(ctx context.Context) (*disk.Image, error) {
	key, _, err := s.Current()
	if err != nil {
		return nil, err
	}
	if img, ok := s.cache.Get(key); ok {
		return img, nil
	}

	timeout := s.opts.Cache.PerItemTimeout
	if timeout <= 0 {
		timeout = cache.DefaultPerItemTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.fetcher.Fetch(ctx, key)
}

// Favorite copies the current image into the favorites folder.
func (s *Session) Favorite() (string, error) {
	if s.opts.Favorites == nil {
		return "", errors.NewError(errors.ErrCodeInvalidConfig, "no favorites folder configured").
			WithComponent("session")
	}
	key, _, err := s.Current()
	if err != nil {
		return "", err
	}
	return s.opts.Favorites.Add(key)
}

// IsFavorite reports whether the current image is already a favorite.
func (s *Session) IsFavorite() bool {
	if s.opts.Favorites == nil {
		return false
	}
	key, _, err := s.Current()
	return err == nil && s.opts.Favorites.Contains(key)
}

// Refresh re-lists the folder. The current image stays selected when it
// still exists; otherwise the position is clamped to the new list. Resident
// images whose file changed since they were read are dropped so the next
// batch reads them again.
func (s *Session) Refresh(ctx context.Context) error {
	dir := s.Dir()
	entries, err := dir.ReadDir(ctx)
	if err != nil {
		return err
	}
	items := make([]string, len(entries))
	modTimes := make(map[string]time.Time, len(entries))
	for i, e := range entries {
		items[i] = e.Path
		modTimes[e.Path] = e.ModTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError("refresh")
	}
	if s.dir != dir {
		// Reopened while listing.
		return nil
	}

	pos := 0
	if len(s.items) > 0 && len(items) > 0 {
		current := s.items[s.position]
		pos = s.position
		if pos >= len(items) {
			pos = len(items) - 1
		}
		for i, item := range items {
			if item == current {
				pos = i
				break
			}
		}
	}

	var changed []string
	for _, key := range s.cache.Keys() {
		img, ok := s.cache.Get(key)
		mt, listed := modTimes[key]
		if ok && img != nil && listed && !img.ModTime.Equal(mt) {
			changed = append(changed, key)
		}
	}
	s.cache.Remove(changed...)

	if err := s.cache.SetPosition(pos, items); err != nil {
		return err
	}
	s.items = items
	s.position = pos
	s.startPreloadLocked()

	s.logger.Debug("session refreshed", map[string]interface{}{
		"items":    len(items),
		"position": pos,
		"changed":  len(changed),
	})
	return nil
}

// Reopen switches the session to another folder. The cache is cleared.
func (s *Session) Reopen(ctx context.Context, dir *source.Directory) error {
	s.stopWatcher()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return closedError("reopen")
	}
	s.cancelBatchLocked()
	s.cache.Clear()
	s.dir = dir
	s.items = nil
	s.position = 0
	s.opened = false
	s.mu.Unlock()

	return s.Open(ctx)
}

// Wait blocks until the latest preload batch has settled and returns its
// report.
func (s *Session) Wait(ctx context.Context) (cache.PreloadReport, error) {
	for {
		s.mu.Lock()
		done := s.batchDone
		s.mu.Unlock()
		if done == nil {
			return cache.PreloadReport{}, nil
		}

		select {
		case <-done:
		case <-ctx.Done():
			return cache.PreloadReport{}, ctx.Err()
		}

		s.mu.Lock()
		if s.batchDone == done {
			report := s.lastReport
			s.mu.Unlock()
			return report, nil
		}
		// Superseded while waiting.
		s.mu.Unlock()
	}
}

// Close cancels the running batch and stops watching the folder. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.stopWatcher()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelBatchLocked()
	done := s.batchDone
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	s.logger.Debug("session closed")
	return nil
}

// startPreloadLocked supersedes the running batch with a new one for the
// current position.
func (s *Session) startPreloadLocked() {
	s.cancelBatchLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.batchCancel = cancel
	s.batchDone = done

	go func() {
		defer close(done)
		defer cancel()

		report := s.cache.Preload(ctx)

		s.mu.Lock()
		if s.batchDone == done {
			s.lastReport = report
		}
		s.mu.Unlock()

		if s.opts.OnPreload != nil {
			s.opts.OnPreload(report)
		}
	}()
}

func (s *Session) cancelBatchLocked() {
	if s.batchCancel != nil {
		s.batchCancel()
		s.batchCancel = nil
	}
}

func (s *Session) startWatcher() error {
	s.mu.Lock()
	dir, running := s.dir, s.watcher != nil
	s.mu.Unlock()
	if running {
		return nil
	}

	w, err := source.Watch(dir, s.opts.Debounce, s.opts.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.watcher = w
	s.watchCancel = cancel
	s.watchDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.Changes():
				if err := s.Refresh(ctx); err != nil && !errors.HasCode(err, errors.ErrCodeSessionClosed) {
					s.logger.Warn("refresh after folder change failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
	return nil
}

func (s *Session) stopWatcher() {
	s.mu.Lock()
	w, cancel, done := s.watcher, s.watchCancel, s.watchDone
	s.watcher, s.watchCancel, s.watchDone = nil, nil, nil
	s.mu.Unlock()

	if w == nil {
		return
	}
	cancel()
	<-done
	if err := w.Close(); err != nil {
		s.logger.Debug("watcher close", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Session) checkLocked(op string) error {
	if s.closed {
		return closedError(op)
	}
	if !s.opened || len(s.items) == 0 {
		return errors.NewError(errors.ErrCodeEmptySource, "no images to show").
			WithComponent("session").
			WithOperation(op)
	}
	return nil
}

func closedError(op string) error {
	return errors.NewError(errors.ErrCodeSessionClosed, "session is closed").
		WithComponent("session").
		WithOperation(op)
}
