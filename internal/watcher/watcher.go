// Package watcher provides a small file watcher used to react to
// configuration changes and data-file deletion.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher watches a single file and invokes a callback when it is
// written, removed or renamed. Watching the parent directory (rather
// than the file itself) survives editors that replace files atomically.
type Watcher struct {
	path     string
	onChange func()
	fw       *fsnotify.Watcher
	done     chan struct{}
	once     sync.Once
}

// New creates a watcher for path; onChange runs on the watcher goroutine.
func New(path string, onChange func()) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &Watcher{path: abs, onChange: onChange, done: make(chan struct{})}, nil
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fw = fw

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				w.onChange()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("File watcher error")
		}
	}
}

// Stop stops watching. Idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fw != nil {
			err = w.fw.Close()
		}
	})
	return err
}
