package tls

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CredentialWatcher watches client certificate and trust anchor files on
// disk and invokes a callback when any of them change. The engine itself is
// immutable, so the callback's job is to build a replacement engine; the
// watcher never mutates a running one.
type CredentialWatcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	callback func()

	mu     sync.Mutex
	closed bool
}

// NewCredentialWatcher starts watching the given paths. Empty paths are
// skipped. The callback runs on the watcher's goroutine and must be quick.
func NewCredentialWatcher(logger *slog.Logger, callback func(), paths ...string) (*CredentialWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			_ = watcher.Close()
			return nil, err
		}
		watched++
	}

	w := &CredentialWatcher{
		watcher:  watcher,
		logger:   logger.With("component", "credential_watcher"),
		callback: callback,
	}

	if watched > 0 {
		go w.run()
	}

	return w, nil
}

func (w *CredentialWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Info("credential file changed", "path", event.Name)
				if w.callback != nil {
					w.callback()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("credential watch error", "error", err)
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *CredentialWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
