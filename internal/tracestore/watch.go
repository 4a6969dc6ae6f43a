package tracestore

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a fixture file into a Store when it changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup
}

// WatchFile starts watching path. The parent directory is watched so that
// editors replacing the file by rename are seen. A reload that fails keeps
// the previous content.
func (s *Store) WatchFile(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{watcher: fw, stop: make(chan struct{})}
	target := filepath.Clean(path)
	w.wg.Go(func() {
		for {
			select {
			case <-w.stop:
				return
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "error", err)
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.LoadFile(path); err != nil {
					s.logger.Warn("fixture reload failed", "path", path, "error", err)
				}
			}
		}
	})
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	close(w.stop)
	w.wg.Wait()
	return w.watcher.Close()
}
