package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config when the file changes and calls onReload with the
// fresh copy. Trigger changes need a restart to take effect; Watch logs a
// warning when it detects one instead of rewiring the registry live.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: editors replace the file on save, which drops
	// a watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		reload := func() {
			fresh, err := Load(path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous", "error", err)
				return
			}
			if !equalTriggers(cfg.Triggers(), fresh.Triggers()) {
				slog.Warn("trigger mapping changed on disk, restart to apply")
			}
			cfg.ReplaceFrom(fresh)
			if onReload != nil {
				onReload(cfg)
			}
			slog.Info("config reloaded", "path", path)
		}

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
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				// Coalesce bursts of write events from one save.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

func equalTriggers(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ta := range a {
		tb, ok := b[name]
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if ta[i] != tb[i] {
				return false
			}
		}
	}
	return true
}
