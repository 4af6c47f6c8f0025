package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	u "tempbeacon/util"
)

// debounceDelay gives editors and the web handler time to finish their
// write-then-rename sequence before we re-read the file.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the configuration file whenever it changes on disk and
// publishes the parsed result on Updates. Most editors replace the file
// instead of writing it in place, so the watch is on the directory and
// events are filtered by name.
type Watcher struct {
	Updates *u.AtomicEvent[*Config]

	cfile   string
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching the directory containing cfile. Callers must
// Close the watcher when done.
func NewWatcher(cfile string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("can't create config watcher: %w", err)
	}
	dir := filepath.Dir(cfile)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("can't watch %s: %w", dir, err)
	}

	w := &Watcher{
		Updates: u.NewAtomicEvent[*Config](),
		cfile:   cfile,
		watcher: fsw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	var debounce <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.cfile) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			debounce = time.After(debounceDelay)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		case <-debounce:
			debounce = nil
			conf, err := ReadConfig(w.cfile)
			if err != nil {
				// Keep running with the old config. A later write may fix it.
				slog.Error("Ignoring invalid config change", "file", w.cfile, "error", err)
				continue
			}
			slog.Info("Config file changed, reloading", "file", w.cfile)
			w.Updates.Send(conf)
		}
	}
}

// Close stops the watcher goroutine and releases the inotify watch.
func (w *Watcher) Close() {
	close(w.stop)
	w.watcher.Close()
	<-w.done
}
