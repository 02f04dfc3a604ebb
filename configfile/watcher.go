package configfile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	rainout "github.com/rustydaw/rainout"
)

const defaultDebounce = 1500 * time.Millisecond

// ReloadHandler receives the freshly parsed session after the file settles.
type ReloadHandler func(cfg rainout.Config, opts rainout.RunOptions)

// Watcher reloads a session file when it changes on disk. Editors often
// produce several write events per save, so reloads are debounced.
type Watcher struct {
	path     string
	debounce time.Duration

	mu       sync.Mutex
	handlers map[int]ReloadHandler
	nextID   int

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption adjusts a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the settle delay before a reload fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for the given session file. Start must be
// called before any reloads are delivered.
func NewWatcher(path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: defaultDebounce,
		handlers: make(map[int]ReloadHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler and returns an unsubscribe func.
func (w *Watcher) OnReload(h ReloadHandler) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = h
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching. The watcher stops when ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors and Save both replace the file by renaming a temp file over
	// it, which would orphan a watch on the file itself. Watch the parent
	// directory and filter by name instead.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
	log.Debugf("watching %s (debounce %s)", w.path, w.debounce)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.fsw.Close()
	<-w.done
	w.cancel = nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("watch error on %s: %v", w.path, err)

		case <-fire:
			timer = nil
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, opts, err := Load(w.path)
	if err != nil {
		log.Errorf("reloading %s: %v", w.path, err)
		return
	}

	w.mu.Lock()
	handlers := make([]ReloadHandler, 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	log.Infof("session file %s reloaded", w.path)
	for _, h := range handlers {
		h(cfg, opts)
	}
}
