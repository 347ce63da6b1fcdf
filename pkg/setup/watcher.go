package setup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"poolselect/pkg/selection"
)

// DefaultDebounce is how long the watcher waits for further changes
// before reloading
const DefaultDebounce = 250 * time.Millisecond

// WatcherOptions configures a Watcher
type WatcherOptions struct {
	Debounce time.Duration

	// Overrides are applied to every reload
	Overrides Overrides

	// OnReload, if set, is called after every reload attempt
	OnReload func(commands int, err error)
}

// Watcher reloads a setup file into an engine whenever it changes. A
// reload that fails leaves the previous configuration in place.
type Watcher struct {
	path    string
	engine  *selection.Engine
	logger  *zap.Logger
	opts    WatcherOptions
	watcher *fsnotify.Watcher
}

// NewWatcher watches the directory holding path so that editors which
// replace the file by renaming are noticed too.
func NewWatcher(path string, engine *selection.Engine, logger *zap.Logger, opts WatcherOptions) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve setup path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch setup directory: %w", err)
	}

	return &Watcher{
		path:    abs,
		engine:  engine,
		logger:  logger,
		opts:    opts,
		watcher: fw,
	}, nil
}

// Run processes file events until ctx is cancelled or the watcher is closed
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("Watching setup file", zap.String("path", w.path))

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					w.logger.Warn("Setup file went away, keeping current configuration",
						zap.String("path", w.path))
				}
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Setup watcher error", zap.Error(err))

		case <-ctx.Done():
			w.logger.Debug("Setup watcher stopping")
			return
		}
	}
}

func (w *Watcher) reload() {
	n, err := w.opts.Overrides.Load(w.path, w.engine)
	if err != nil {
		w.logger.Error("Failed to reload setup, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err))
	} else {
		w.logger.Info("Reloaded setup",
			zap.String("path", w.path),
			zap.Int("commands", n),
			zap.Uint64("generation", w.engine.Generation()))
	}
	if w.opts.OnReload != nil {
		w.opts.OnReload(n, err)
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
