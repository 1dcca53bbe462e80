package skills

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events (e.g. an editor saving
// a SKILL.md via write-then-rename) into a single reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads a Loader whenever its skill directories change.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWatcher creates a Watcher over loader's directories. Directories that
// don't exist yet are silently skipped; Start still succeeds.
func NewWatcher(loader *Loader) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range loader.dirs {
		_ = fw.Add(dir) // best-effort: missing dirs are fine, just unwatched
	}
	return &Watcher{loader: loader, watcher: fw}, nil
}

// Start begins watching in the background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	go w.loop(watchCtx)
	return nil
}

// Stop terminates the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var mu sync.Mutex
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, w.loader.Reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("skills: watch error", "error", err)
		}
	}
}
