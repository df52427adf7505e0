// Package watch re-runs the publisher whenever a bundler in watch mode writes
// new source maps into the output directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher triggers run after map files settle in dir.
type Watcher struct {
	dir      string
	root     string
	rootGone bool
	suffix   string
	debounce time.Duration
	logger   *slog.Logger
	run      func(ctx context.Context)
}

// New creates a Watcher. run is never invoked concurrently with itself.
func New(dir, suffix string, debounce time.Duration, logger *slog.Logger, run func(ctx context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if suffix == "" {
		suffix = ".map"
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		root = filepath.Clean(dir)
	}
	return &Watcher{dir: dir, root: root, suffix: suffix, debounce: debounce, logger: logger, run: run}
}

// Run performs an initial pass and then watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.dir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	// The parent is watched so a bundler that empties the output directory by
	// deleting and recreating it is still followed.
	if parent := filepath.Dir(w.root); parent != w.root {
		if err := fw.Add(parent); err != nil {
			w.logger.Warn("watch parent directory failed; recreating the build directory will not be detected", "dir", parent, "error", err)
		}
	}
	w.logger.Info("watching build output", "dir", w.dir, "debounce", w.debounce)

	w.run(ctx)

	ctx, cancel := context.WithCancel(ctx)
	triggers := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		debounce(ctx, triggers, w.debounce, func() { w.run(ctx) })
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(fw, ev) {
				select {
				case triggers <- struct{}{}:
				default:
				}
			}
		}
	}
}

// handle reports whether ev should schedule a run. Removals are ignored so
// that the publisher's own deletions do not retrigger it.
func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)
	if parent := filepath.Dir(w.root); parent != w.root && name != w.root && filepath.Dir(name) == parent {
		return false
	}
	if name == w.root && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		if !w.rootGone {
			w.rootGone = true
			w.logger.Warn("build output directory removed; waiting for it to be recreated", "dir", w.dir)
		}
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if name == w.root && ev.Has(fsnotify.Create) {
		w.rootGone = false
		w.logger.Info("build output directory recreated", "dir", w.dir)
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("watch new directory failed", "dir", ev.Name, "error", err)
			}
			return true
		}
	}
	return strings.HasSuffix(ev.Name, w.suffix)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// debounce calls fire once triggers has been quiet for wait. fire runs on the
// calling goroutine, so calls never overlap.
func debounce(ctx context.Context, triggers <-chan struct{}, wait time.Duration, fire func()) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-triggers:
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			fire()
		}
	}
}
