package orchestrator

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tuanbt/razzle/internal/paths"
)

// ConfigWatcher warns when a file that is only read at startup changes:
// the override file or a dotenv file.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	onChange func(name string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewConfigWatcher watches the application root. onChange, if not nil, is
// called with the changed file name after the warning is logged.
func NewConfigWatcher(appPath string, logger *slog.Logger, onChange func(name string)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(appPath); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &ConfigWatcher{
		watcher:  watcher,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !IsConfigFile(name) {
				continue
			}
			w.logger.Warn("configuration changed, restart razzle to apply it", "file", name)
			if w.onChange != nil {
				w.onChange(name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("config watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (w *ConfigWatcher) Close() {
	w.closeOnce.Do(func() {
		w.watcher.Close()
		<-w.done
	})
}

// IsConfigFile reports whether a file name in the application root is read
// only at startup.
func IsConfigFile(name string) bool {
	for _, candidate := range paths.ConfigCandidates {
		if name == candidate {
			return true
		}
	}
	return name == ".env" || strings.HasPrefix(name, ".env.")
}
