package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watch rescans dir whenever an eligible artifact is created, written,
// removed or renamed. Bursts of events within debounce trigger one rescan.
// Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "tools.watch.start", slog.String("dir", dir))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("tools.watch.stop", slog.String("dir", dir))
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&relevant == 0 {
				continue
			}
			if !r.patterns.Eligible(event.Name) {
				continue
			}
			r.logger.DebugContext(ctx, "tools.watch.event",
				slog.String("file", event.Name),
				slog.String("op", event.Op.String()),
			)
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WarnContext(ctx, "tools.watch.error", slog.String("error", err.Error()))
		case <-timer.C:
			if err := r.Load(ctx, dir); err != nil {
				r.logger.ErrorContext(ctx, "tools.watch.reload.failed", slog.String("error", err.Error()))
			}
		}
	}
}
