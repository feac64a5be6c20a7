package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the current configuration and reloads it when a settings
// file in its directory changes.
type Watcher struct {
	dir    string
	getenv func(string) string
	logger *slog.Logger

	mu       sync.RWMutex
	current  Config
	onChange []func(old, new Config)
}

// NewWatcher creates a Watcher and performs the initial load.
func NewWatcher(dir string, getenv func(string) string, logger *slog.Logger) (*Watcher, error) {
	w := &Watcher{dir: dir, getenv: getenv, logger: logger}
	cfg, err := Load(dir, getenv)
	if err != nil {
		return nil, err
	}
	w.current = cfg
	return w, nil
}

// Config returns the current (latest) configuration.
func (w *Watcher) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every reload that changed
// something.
func (w *Watcher) OnChange(fn func(old, new Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload forces an immediate re-read. On error the previous configuration
// stays active.
func (w *Watcher) Reload() (Config, error) {
	cfg, err := Load(w.dir, w.getenv)
	if err != nil {
		return w.Config(), err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	callbacks := make([]func(old, new Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	if !Compare(old, cfg).Changed() {
		return cfg, nil
	}
	for _, fn := range callbacks {
		fn(old, cfg)
	}
	return cfg, nil
}

// Watch starts a background goroutine that hot-reloads on settings file
// changes. The directory is watched rather than the files so that editors
// replacing a file, and files created later, are both picked up.
// Call the returned stop function to clean up.
func (w *Watcher) Watch() (stop func(), err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", w.dir, err)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !isSettingsFile(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
					continue
				}
				if _, err := w.Reload(); err != nil {
					w.logger.Warn("config reload failed, keeping previous settings",
						slog.String("file", ev.Name),
						slog.String("error", err.Error()),
					)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", slog.String("error", err.Error()))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}, nil
}

func isSettingsFile(name string) bool {
	base := filepath.Base(name)
	return base == JSONFile || base == YAMLFile
}
