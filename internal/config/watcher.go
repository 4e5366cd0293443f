package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports debounced changes to a set of files. Files can be added
// while it runs.
// It watches the parent directories so editors that replace files on save
// (write to temp, rename over) are still observed.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	files       map[string]bool
	onChange    func(path string)
	pending     map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for the given files. Empty paths are skipped.
func NewWatcher(onChange func(path string), paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:     fw,
		files:       make(map[string]bool),
		onChange:    onChange,
		pending:     make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(ExpandHome(p))
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = true
	}
	return w, nil
}

// Start begins watching. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	w.mu.Unlock()

	for d := range dirs {
		if err := w.watcher.Add(d); err != nil {
			slog.Warn("config.watch", "dir", d, "error", err)
		}
	}

	go w.run(ctx)
	return nil
}

// Add starts following path as well. Adding a known path is a no-op.
func (w *Watcher) Add(path string) error {
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.files[abs] {
		w.mu.Unlock()
		return nil
	}
	w.files[abs] = true
	running := w.running
	w.mu.Unlock()

	if !running {
		return nil
	}
	slog.Info("config.watch.add", "path", abs)
	return w.watcher.Add(filepath.Dir(abs))
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		slog.Warn("config.watch.close", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config.watch", "error", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	w.mu.Lock()
	if w.files[abs] {
		w.pending[abs] = time.Now()
	}
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for p, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	for _, p := range ready {
		slog.Debug("config.watch.changed", "path", p)
		w.onChange(p)
	}
}
