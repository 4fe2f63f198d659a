package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HardwareWatcher reloads a TOML hardware profile into a store whenever the
// file is written or replaced.
type HardwareWatcher struct {
	path    string
	store   Store
	watcher *fsnotify.Watcher

	log *zap.Logger
}

// NewHardwareWatcher starts watching path. The directory is watched rather
// than the file so that editors replacing the file are noticed too.
func NewHardwareWatcher(path string, store Store, log *zap.Logger) (*HardwareWatcher, error) {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher for hardware config '%s': %w", path, err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("failed to watch hardware config '%s': %w", path, err),
			watcher.Close())
	}

	return &HardwareWatcher{
		path:    path,
		store:   store,
		watcher: watcher,
		log:     log,
	}, nil
}

// Run reloads the profile on every change until ctx is done or the watcher is
// closed. A profile that fails to load leaves the store as it was.
func (w *HardwareWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if err := LoadHardwareConfig(ctx, w.path, w.store); err != nil {
				w.log.Warn("Failed to reload hardware config", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.log.Info("Reloaded hardware config", zap.String("path", w.path))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching hardware config '%s': %w", w.path, err)
		}
	}
}

func (w *HardwareWatcher) Close() error {
	return w.watcher.Close()
}
