// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watcher reloads the configuration when its file changes and notifies
// listeners. Reloads replay the same --config/--set arguments the process
// started with, so CLI overrides keep winning over the file.
type Watcher struct {
	mu        sync.RWMutex
	args      []string
	path      string
	debounce  time.Duration
	config    *Config
	listeners []func(*Config)
	fsw       *fsnotify.Watcher
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets how long the watcher waits for a burst of file
// events to settle before reloading.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the configuration described by args (the global
// --config and --set flags) and prepares to watch the config file.
func NewWatcher(args []string, opts ...WatcherOption) (*Watcher, error) {
	path, _, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("config watcher requires --config")
	}
	w := &Watcher{
		args:     append([]string(nil), args...),
		path:     filepath.Clean(path),
		debounce: defaultWatchDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := LoadWithCLI(w.args)
	if err != nil {
		return nil, err
	}
	w.config = cfg

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files by rename, so watch the directory.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw
	return w, nil
}

// OnChange registers a callback to be called when config changes.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching for configuration changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher and waits for the event loop to exit.
// Stop must only be called after Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || filepath.Clean(event.Name) != w.path {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config.watch.error", slog.String("error", err.Error()))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	w.logger.Info("config.reload.start", slog.String("path", w.path))

	cfg, err := LoadWithCLI(w.args)
	if err != nil {
		// Keep serving the last good configuration.
		w.logger.Error("config.reload.failed", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reload.done")
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchConfig creates a watcher for the config named in args and starts it.
func WatchConfig(ctx context.Context, args []string, opts ...WatcherOption) (*Watcher, *Config, error) {
	watcher, err := NewWatcher(args, opts...)
	if err != nil {
		return nil, nil, err
	}
	watcher.Start(ctx)
	return watcher, watcher.Config(), nil
}
