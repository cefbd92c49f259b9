package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/docstate/internal/clock"
	"github.com/roach88/docstate/internal/schedule"
)

// DefaultReloadDelay coalesces the burst of events an editor save produces.
const DefaultReloadDelay = 100 * time.Millisecond

// Watcher reloads a config file when it changes and hands the result to a
// callback. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	deb      *schedule.Debouncer
	logger   *slog.Logger
	onChange func(Config)

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Delay  time.Duration
}

// NewWatcher watches path. The parent directory is watched rather than the
// file so that atomic rename-on-save is seen.
func NewWatcher(path string, onChange func(Config), opts WatcherOptions) (*Watcher, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultReloadDelay
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		fsw:      fsw,
		deb:      schedule.NewDebouncer(opts.Clock, opts.Delay),
		logger:   opts.Logger,
		onChange: onChange,
	}, nil
}

// Start processes events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.deb.Cancel()
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.deb.Cancel()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.deb.Trigger(w.Reload)
}

// Reload loads the file now and calls the callback if it is valid.
func (w *Watcher) Reload() {
	cfg, err := CheckFile(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}
