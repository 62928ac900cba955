package runtimecfg

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file and calls a callback whenever it
// changes on disk, giving components a documented reconfigure entry
// point (spec.md §9, "Dynamic config") instead of polling or hidden
// mutation.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// WatchFile starts watching path and invokes onChange every time it is
// written. onChange is called from a dedicated goroutine; Close stops
// it.
func WatchFile(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{fsw: fsw}, nil
}

// Close stops watching.
func (w *Watcher) Close() error { return w.fsw.Close() }
