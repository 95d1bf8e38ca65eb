// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/submaker/submaker/internal/log"
)

// Watch reloads the config file on change and invokes onReload with the new
// settings. Only non-structural settings (provider toggles, timeouts) should
// be applied by the caller; listen address and storage backend changes
// require a restart.
//
// Events are debounced because editors emit several write events per save.
func Watch(ctx context.Context, path string, onReload func(Settings)) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	logger := log.WithComponent("config")
	go func() {
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			case <-pending:
				pending = nil
				s, err := Load(path)
				if err != nil {
					logger.Warn().
						Err(err).
						Str("event", "config.reload_rejected").
						Str("path", path).
						Msg("config file changed but failed to load, keeping previous settings")
					continue
				}
				logger.Info().
					Str("event", "config.reloaded").
					Str("path", path).
					Strs("providers", s.Providers.Enabled).
					Msg("configuration reloaded")
				onReload(s)
			}
		}
	}()
	return nil
}
