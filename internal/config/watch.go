package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kolabdoc/collabedit/internal/logger"
)

// Watcher re-reads the YAML file a Config was loaded from whenever it
// changes. A reload replaces only the Config returned by Current; sessions
// keep the settings they were created with, so an in-flight session's
// configuration never changes underfoot.
type Watcher struct {
	mu      sync.RWMutex
	current Config
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching cfg.Path() (a no-op watcher if cfg was not
// loaded from a file). Call Stop to release the underlying inotify/kqueue
// handle.
func NewWatcher(cfg Config) (*Watcher, error) {
	w := &Watcher{current: cfg, done: make(chan struct{})}
	if cfg.Path() == "" {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.Path()); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	w.mu.RLock()
	path := w.current.Path()
	args := []string{}
	w.mu.RUnlock()

	next, err := Load(path, args)
	if err != nil {
		logger.Warn("config reload failed, keeping previous session defaults")
		return
	}
	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	logger.Info("session defaults reloaded from config file")
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop releases the underlying file watcher.
func (w *Watcher) Stop() {
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
}
