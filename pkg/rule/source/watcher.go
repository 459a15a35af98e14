package source

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the rule directory whenever its files change, until ctx
// is cancelled. Change bursts are debounced so one editor save triggers
// one reload. A failed reload keeps the previous generation live.
func (f *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("source: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.cfg.Dir); err != nil {
		return fmt.Errorf("source: watch %s: %w", f.cfg.Dir, err)
	}
	f.logger.Info("watching rule directory", "dir", f.cfg.Dir)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRuleFile(filepath.Base(event.Name)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.cfg.DebounceInterval)
				timerC = timer.C
			} else {
				timer.Reset(f.cfg.DebounceInterval)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := f.Load(); err != nil {
				f.logger.Error("rule reload failed, keeping previous generation", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("rule watcher error", "error", err)
		}
	}
}
