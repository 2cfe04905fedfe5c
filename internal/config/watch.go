package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the managed_alarms and alarm_levels sections of a config
// file whenever it changes on disk, so operators can adjust thresholds and
// conditions without a restart.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	onLoad  func(*Config)
	onError func(error)
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching path's containing directory for changes.
// onLoad is invoked with the freshly parsed Config after every write;
// onError is invoked for read/parse failures, which do not stop watching.
func NewWatcher(path string, onLoad func(*Config), onError func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := dirOf(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		fsw:     fsw,
		onLoad:  onLoad,
		onError: onError,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.stop)
	<-w.done
	w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			if w.onLoad != nil {
				w.onLoad(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		case <-w.stop:
			return
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
