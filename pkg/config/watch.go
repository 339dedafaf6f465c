package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// DefaultWatchDebounce coalesces the burst of events an editor save produces
const DefaultWatchDebounce = 100 * time.Millisecond

// Watch reports changes to the given files and to *.md files in the given
// directories. The returned channel receives at most one pending signal and
// is closed when ctx is done.
func Watch(ctx context.Context, logger hclog.Logger, paths ...string) (<-chan struct{}, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Directories are watched rather than files so editors that replace the
	// file on save keep being tracked.
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	watched := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		dir := filepath.Dir(abs)
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			dirs[abs] = true
			dir = abs
		} else {
			files[abs] = true
		}
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[dir] = true
	}

	relevant := func(name string) bool {
		abs, err := filepath.Abs(name)
		if err != nil {
			return false
		}
		if files[abs] {
			return true
		}
		return dirs[filepath.Dir(abs)] && strings.EqualFold(filepath.Ext(abs), ".md")
	}

	ch := make(chan struct{}, 1)
	go watchLoop(ctx, logger, watcher, relevant, ch)
	logger.Info("watching for changes", "paths", paths)
	return ch, nil
}

func watchLoop(ctx context.Context, logger hclog.Logger, watcher *fsnotify.Watcher, relevant func(string) bool, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case <-pending:
			pending = nil
			select {
			case ch <- struct{}{}:
			default:
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevant(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("file changed", "path", event.Name, "op", event.Op.String())
			pending = time.After(DefaultWatchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("file watcher error", "error", err)
		}
	}
}
