// Package watch observes a directory tree for file changes using inotify
// style OS facilities and forwards normalized events to the engine.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"tonearm/internal/logging"
	"tonearm/internal/services"
)

// Kind classifies an observed change.
type Kind int

const (
	// Changed covers create, write and attribute changes: the path may now
	// have new content.
	Changed Kind = iota
	// Removed covers delete and rename-away: the path no longer exists
	// under its old name.
	Removed
)

// Event is one normalized filesystem observation.
type Event struct {
	Path string
	Kind Kind
}

// Watcher recursively watches a root directory. OS watch APIs are not
// recursive, so every subdirectory is registered individually and new
// directories are registered as they appear.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	events chan Event
	logger *slog.Logger
}

// New opens a watcher over root and registers its current directory tree.
func New(root string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "watch", "new", "create watcher", err)
	}
	w := &Watcher{
		root:   root,
		fsw:    fsw,
		events: make(chan Event, 256),
		logger: logger,
	}
	if err := w.addTree(root, nil); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the event stream. Closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run pumps OS events until the context is canceled or the underlying
// watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", logging.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if isHidden(ev.Name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			// Files may already exist inside a directory that was moved in
			// before its watch was registered; surface them as changes.
			var seeded []Event
			if err := w.addTree(ev.Name, &seeded); err != nil {
				w.logger.Warn("watch new directory", logging.String("path", ev.Name), logging.Error(err))
			}
			for _, seed := range seeded {
				w.emit(ctx, seed)
			}
			return
		}
		w.emit(ctx, Event{Path: ev.Name, Kind: Changed})
	case ev.Op.Has(fsnotify.Write), ev.Op.Has(fsnotify.Chmod):
		w.emit(ctx, Event{Path: ev.Name, Kind: Changed})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.emit(ctx, Event{Path: ev.Name, Kind: Removed})
	}
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// addTree registers root and every subdirectory below it. When seeded is
// non-nil, regular files encountered during the walk are appended as Changed
// events.
func (w *Watcher) addTree(root string, seeded *[]Event) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if isHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if seeded != nil {
			*seeded = append(*seeded, Event{Path: path, Kind: Changed})
		}
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "watch", "add", "register directory tree", err)
	}
	return nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
