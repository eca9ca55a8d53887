package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a config file when it changes and emits each valid
// result on Updates. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	load     func() (*Config, error)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	updates chan *Config

	reloads atomic.Int64
	failed  atomic.Int64
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLoadFunc replaces the reload function, for example with a Loader
// that layers the file over user config and environment.
func WithLoadFunc(fn func() (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		w.load = fn
	}
}

// NewWatcher creates a watcher for path. The file's directory is watched so
// editors that replace the file are noticed.
func NewWatcher(path string, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		watcher:  fsw,
		logger:   logger,
		updates:  make(chan *Config, 1),
	}
	w.load = func() (*Config, error) {
		cfg, err := LoadFromFile(w.path)
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Updates returns the channel of reloaded configs. It is closed when the
// watcher stops.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Start begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	go w.processEvents(ctx)

	w.logger.Info("Config watcher started",
		"path", w.path,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Reloads returns the number of configs emitted.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Failures returns the number of reloads rejected as invalid.
func (w *Watcher) Failures() int64 { return w.failed.Load() }

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.updates)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()

	w.logger.Debug("Config change detected", "path", w.path, "op", event.Op.String())
}

func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = false
	w.pendingMu.Unlock()
	if !pending {
		return
	}

	cfg, err := w.load()
	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("Ignoring invalid config", "path", w.path, "error", err)
		return
	}

	// Keep only the newest config if the consumer is behind.
	select {
	case <-w.updates:
	default:
	}
	w.reloads.Add(1)
	w.logger.Info("Config reloaded", "path", w.path)
	select {
	case w.updates <- cfg:
	case <-ctx.Done():
	}
}
