// Package watch observes single directories for new image files and shares
// one underlying watch per directory between any number of subscribers.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jo-hoe/gallerysync/internal/storage"
)

// ErrWatchTerminated reports that the watched directory went away. The
// watcher stops and is not restarted.
var ErrWatchTerminated = errors.New("watch terminated")

// Kind classifies a filesystem notification.
type Kind int

const (
	// Renamed is a new entry in the directory: a create or a rename-in.
	Renamed Kind = iota
	// Modified covers content and attribute changes of an existing entry.
	Modified
	// Removed is an entry that was deleted or renamed away.
	Removed
)

func (k Kind) String() string {
	switch k {
	case Renamed:
		return "renamed"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a qualifying change in a watched directory. Data holds the file
// contents read when the event was raised.
type Event struct {
	Kind Kind
	Name string
	Path string
	Data []byte
	Time time.Time
}

// Options tunes a DirWatcher.
type Options struct {
	// Extension is the managed image extension. Default: ".png".
	Extension string
	// ReadFile loads the contents attached to an event. Default: os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

func (o *Options) defaults() {
	if o.Extension == "" {
		o.Extension = ".png"
	}
	if o.ReadFile == nil {
		o.ReadFile = os.ReadFile
	}
}

// DirWatcher watches exactly one directory, non-recursively, and emits an
// Event for every new entry carrying the managed extension.
type DirWatcher struct {
	dir    string
	opts   Options
	fw     *fsnotify.Watcher
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

// New starts watching dir.
func New(dir string, opts Options) (*DirWatcher, error) {
	opts.defaults()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch directory %s: %w", dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(abs); err != nil {
		if cerr := fw.Close(); cerr != nil {
			slog.Warn("watch: failed to close watcher", "dir", abs, "error", cerr)
		}
		return nil, fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	w := &DirWatcher{
		dir:    abs,
		opts:   opts,
		fw:     fw,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	slog.Debug("watch: started", "dir", abs)
	return w, nil
}

// Terminated reports whether the watcher stopped, either on its own or
// through Close. A terminated watcher never delivers another event.
func (w *DirWatcher) Terminated() bool {
	return w.Err() != nil || w.closing()
}

// Events returns the stream of qualifying events. It is closed when the
// watcher stops, either through Close or because the directory went away.
func (w *DirWatcher) Events() <-chan Event {
	return w.events
}

// Err returns why the watcher stopped on its own, or nil.
func (w *DirWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the watcher. No event is delivered after Close returns.
func (w *DirWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
		slog.Debug("watch: stopped", "dir", w.dir)
	})
	return err
}

func (w *DirWatcher) loop() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return

		case raw, ok := <-w.fw.Events:
			if !ok {
				if !w.closing() {
					w.terminate(fmt.Errorf("notification stream closed for %s: %w", w.dir, ErrWatchTerminated))
				}
				return
			}
			if filepath.Clean(raw.Name) == w.dir && raw.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.terminate(fmt.Errorf("directory %s removed: %w", w.dir, ErrWatchTerminated))
				return
			}
			event, ok := w.qualify(raw)
			if !ok {
				continue
			}
			select {
			case w.events <- event:
			case <-w.done:
				return
			}

		case watchErr, ok := <-w.fw.Errors:
			if !ok {
				if !w.closing() {
					w.terminate(fmt.Errorf("error stream closed for %s: %w", w.dir, ErrWatchTerminated))
				}
				return
			}
			slog.Warn("watch: notification error", "dir", w.dir, "error", watchErr)
		}
	}
}

// qualify turns a raw notification into an Event if it is a new entry with
// the managed extension whose contents can still be read.
func (w *DirWatcher) qualify(raw fsnotify.Event) (Event, bool) {
	kind := classify(raw.Op)
	name := filepath.Base(raw.Name)
	if kind != Renamed || !storage.HasExtension(name, w.opts.Extension) {
		slog.Debug("watch: dropping event", "dir", w.dir, "name", name, "op", raw.Op.String(), "kind", kind.String())
		return Event{}, false
	}

	data, err := w.opts.ReadFile(raw.Name)
	if err != nil {
		slog.Warn("watch: failed to read new file, dropping event", "path", raw.Name, "error", err)
		return Event{}, false
	}

	return Event{
		Kind: kind,
		Name: name,
		Path: filepath.Clean(raw.Name),
		Data: data,
		Time: time.Now(),
	}, true
}

func (w *DirWatcher) closing() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *DirWatcher) terminate(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	slog.Warn("watch: watcher terminated", "dir", w.dir, "error", err)
}

func classify(op fsnotify.Op) Kind {
	switch {
	case op.Has(fsnotify.Create):
		return Renamed
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Removed
	default:
		return Modified
	}
}
