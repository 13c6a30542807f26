package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the policy file at path into h whenever it changes, until
// ctx is cancelled. A file that fails to load is logged and ignored; the
// previous policy stays active.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-on-save keeps working.
func Watch(ctx context.Context, path string, h *Holder, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				reload(abs, h, logger)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("policy watcher error", zap.Error(werr))
			}
		}
	}()
	return nil
}

func reload(path string, h *Holder, logger *zap.Logger) {
	cfg, err := LoadFile(path)
	if err != nil {
		logger.Warn("policy reload rejected, keeping previous policy",
			zap.String("path", path), zap.Error(err))
		return
	}
	h.Swap(cfg)
	logger.Info("policy reloaded", zap.String("path", path))
}
