package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wpfleet/wpfleet/internal/logger"
)

// debounce collapses bursts of filesystem events (a site deploy touches
// thousands of files) into one rescan.
const debounce = 5 * time.Second

// Watch watches the base paths and calls rescan after filesystem
// changes settle. Blocks until ctx is done.
func Watch(ctx context.Context, basePaths []string, rescan func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, base := range basePaths {
		if err := watcher.Add(base); err != nil {
			// A base path can appear later (mounted volume); the
			// periodic rescan still covers it.
			logger.Warn("Failed to watch base path", "path", base, "error", err)
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			logger.Debug("Base path changed, rescanning sites")
			rescan()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Site watcher error", "error", err)
		}
	}
}
