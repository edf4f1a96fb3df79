package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher debounces filesystem change events for a single
// config file, adapted from teacher's FileWatcher (which recursively
// watches a whole C++ source tree for any .cpp/.h change) down to
// "watch one path, debounce, call back" since the demo server only
// ever has one config file to reload.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	onChange func()
	logger   *slog.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceFor   time.Duration

	stop chan struct{}
}

// WatchConfig starts watching path, invoking onChange (debounced by
// debounceFor) on every write or rename-create of the file.
// debounceFor <= 0 uses teacher's own 500ms default.
func WatchConfig(path string, onChange func(), logger *slog.Logger, debounceFor time.Duration) (*ConfigWatcher, error) {
	if debounceFor <= 0 {
		debounceFor = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	cw := &ConfigWatcher{
		watcher:     w,
		path:        path,
		onChange:    onChange,
		logger:      logger,
		debounceFor: debounceFor,
		stop:        make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.debounce()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", "path", cw.path, "error", err)
		case <-cw.stop:
			return
		}
	}
}

func (cw *ConfigWatcher) debounce() {
	cw.debounceMu.Lock()
	defer cw.debounceMu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debounceFor, cw.onChange)
}

// Stop stops watching and releases the fsnotify watcher.
func (cw *ConfigWatcher) Stop() error {
	close(cw.stop)

	cw.debounceMu.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceMu.Unlock()

	return cw.watcher.Close()
}
