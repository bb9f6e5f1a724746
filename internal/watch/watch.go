// Package watch reports settled file changes under a directory tree.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the tree must stay quiet before a change is
// reported.
const DefaultDebounce = 200 * time.Millisecond

// ChangeFunc receives the root-relative paths changed since the last call.
type ChangeFunc func(ctx context.Context, paths []string)

// Options configure Watch.
type Options struct {
	Debounce time.Duration
	// Ignore lists absolute directories whose events are dropped, such as an
	// output or trash directory nested in the watched tree.
	Ignore []string
}

// Watch starts an fsnotify watcher on root and calls onChange once events
// have been quiet for the debounce interval. It blocks until ctx is
// cancelled. New directories created at runtime are added to the watch list.
func Watch(ctx context.Context, root string, opts Options, logger *slog.Logger, onChange ChangeFunc) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	ignore := make([]string, 0, len(opts.Ignore))
	for _, dir := range opts.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			ignore = append(ignore, abs)
		}
	}
	ignored := func(path string) bool {
		for _, dir := range ignore {
			if path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator)) {
				return true
			}
		}
		return false
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root, ignored); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var timer *time.Timer
	var fire <-chan time.Time
	pending := make(map[string]struct{})

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(opts.Debounce)
			fire = timer.C
		} else {
			timer.Reset(opts.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			timer = nil
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			onChange(ctx, paths)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignored(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name, ignored); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
				}
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			logger.Debug("watcher: event", slog.String("path", rel), slog.String("op", ev.Op.String()))
			pending[rel] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, ignored func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignored(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
