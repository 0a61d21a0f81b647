package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/utils"
)

// DefaultDebounce is how long a Watcher waits for writes to settle before reading the file.
const DefaultDebounce = 500 * time.Millisecond

// A Watcher reads the configuration file again whenever it changes. Invalid versions are logged
// and skipped.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	clk      clock.Clock
	debounce time.Duration
	logger   logging.Logger
	out      chan *Config
	workers  utils.StoppableWorkers
}

// NewWatcher watches path. The directory is watched rather than the file because editors
// replace files on save.
func NewWatcher(path string, clk clock.Clock, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	if clk == nil {
		clk = clock.New()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot watch config")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return nil, multiClose(errors.Wrap(err, "cannot watch config"), fsw)
	}
	w := &Watcher{
		path:     abs,
		fs:       fsw,
		clk:      clk,
		debounce: debounce,
		logger:   logger,
		out:      make(chan *Config),
	}
	w.workers = utils.NewStoppableWorkers(w.run)
	return w, nil
}

func multiClose(err error, fsw *fsnotify.Watcher) error {
	if closeErr := fsw.Close(); closeErr != nil {
		return errors.Wrap(err, closeErr.Error())
	}
	return err
}

// Config returns the channel new configurations are sent on.
func (w *Watcher) Config() <-chan *Config {
	return w.out
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	w.workers.Stop()
	return err
}

func (w *Watcher) run(ctx context.Context) {
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			settle = w.clk.After(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		case <-settle:
			settle = nil
			cfg, err := Read(w.path)
			if err != nil {
				w.logger.Errorw("ignoring invalid config change", "error", err)
				continue
			}
			select {
			case w.out <- cfg:
			case <-ctx.Done():
				return
			}
		}
	}
}
