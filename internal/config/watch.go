package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the editor write-rename-chmod burst that a
// single "save" produces into one reload.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes on disk, calling
// onReload with each successfully loaded Config. A file that fails to
// parse or validate is logged and skipped; the previous config stays in
// effect. Blocks until ctx is canceled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger.Info("watching config file", slog.String("path", path))

	var debounce *time.Timer

	debounced := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			})

		case <-debounced:
			cfg, loadErr := Load(path)
			if loadErr != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("path", path),
					slog.String("error", loadErr.Error()),
				)

				continue
			}

			logger.Info("config reloaded", slog.String("path", path))
			onReload(cfg)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
