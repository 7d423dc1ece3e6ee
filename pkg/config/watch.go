package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadSettle = 100 * time.Millisecond

// WatchSettings reloads path into store whenever the file is written,
// created or renamed into place, until ctx is done. Invalid files are logged
// and leave the store unchanged. base supplies the env defaults.
func WatchSettings(ctx context.Context, path string, base Config, store *Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "settings", "path", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch settings directory: %w", err)
	}

	var lastMod time.Time
	if st, err := os.Stat(path); err == nil {
		lastMod = st.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			st, err := os.Stat(path)
			if err != nil || !st.ModTime().After(lastMod) {
				continue
			}
			lastMod = st.ModTime()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reloadSettle):
			}

			next, err := LoadSettings(path)
			if err != nil {
				logger.Warn("settings reload failed", "error", err)
				continue
			}
			store.Set(next.Overlay(base))
			logger.Info("settings reloaded; changes apply to the next connection")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)
		}
	}
}
