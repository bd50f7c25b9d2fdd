// Package watcher auto-ingests documents dropped into watched directories.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher monitors drop directories and invokes onFile for every created or
// modified document matching the extension filter. Rapid successive writes
// to the same file (editors, partial copies) collapse into one callback via
// debouncing.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	onFile     func(path string)
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over roots. extensions filters files (empty = all);
// each entry may be given with or without the leading dot.
func New(roots, extensions []string, recursive bool, onFile func(path string), logger *zap.Logger) *Watcher {
	return &Watcher{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		onFile:     onFile,
		debounce:   defaultDebounce,
		logger:     logger,
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
}

// Start registers the roots (creating missing ones) and begins watching.
// Runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.started = true
	for _, root := range w.roots {
		if err := w.watchTreeLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()

	w.logger.Info("watching directories",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

// run drains fsw's channels. The watcher is passed in rather than read from
// w.fsw, which Stop sets to nil under the mutex; Close makes both channels
// drain and close, ending the loop.
func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if w.recursive {
			w.mu.Lock()
			_ = w.watchTreeLocked(ev.Name)
			w.mu.Unlock()
			w.syncDir(ev.Name)
		}
		return
	}
	if w.matches(ev.Name) {
		w.schedule(ev.Name)
	}
}

// schedule arms (or re-arms) the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.onFile(path)
	})
}

func (w *Watcher) matches(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// watchTreeLocked registers root (created if missing) and, when recursive,
// every directory below it.
func (w *Watcher) watchTreeLocked(root string) error {
	if w.fsw == nil {
		return nil
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// SyncExisting invokes the callback for every matching file already present
// under the watched roots. Call after Start so files that predate the
// watcher still get ingested.
func (w *Watcher) SyncExisting() {
	for _, root := range w.roots {
		w.syncDir(root)
	}
}

func (w *Watcher) syncDir(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !w.recursive && path != filepath.Clean(root) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matches(path) {
			w.onFile(path)
		}
		return nil
	})
}

// Stop stops watching and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
