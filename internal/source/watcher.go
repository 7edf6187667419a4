package source

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/utils"
)

// DefaultDebounce coalesces the burst of events produced by copying many files.
const DefaultDebounce = 250 * time.Millisecond

// Watcher signals when the set of images in a Directory may have changed.
// Bursts of events within the debounce interval produce one signal.
type Watcher struct {
	dir      *Directory
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *utils.StructuredLogger

	changes chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching dir. The caller must Close the watcher.
func Watch(dir *Directory, debounce time.Duration, logger *utils.StructuredLogger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSourceUnavailable, "failed to create file watcher").
			WithComponent("source")
	}
	if err := fsw.Add(dir.Path()); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrap(err, errors.ErrCodeSourceUnavailable, "failed to watch folder").
			WithComponent("source").
			WithContext("dir", dir.Path())
	}

	w := &Watcher{
		dir:      dir,
		fsw:      fsw,
		debounce: debounce,
		logger:   logger.WithComponent("watcher"),
		changes:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes delivers one value per settled burst of relevant events. A signal
// that nobody has received yet absorbs later ones.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Trace("folder event", map[string]interface{}{"op": ev.Op.String(), "name": ev.Name})
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", map[string]interface{}{"dir": w.dir.Path(), "error": err})

		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

// relevant keeps events that can change the listing or an image's bytes.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}
	return w.dir.Accepts(ev.Name)
}
