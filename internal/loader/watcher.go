package loader

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for the directory to go quiet.
const DefaultDebounce = 500 * time.Millisecond

// Operation is the kind of change seen on a file.
type Operation int

const (
	FileCreated Operation = iota
	FileModified
	FileDeleted
)

func (o Operation) String() string {
	switch o {
	case FileCreated:
		return "created"
	case FileModified:
		return "modified"
	case FileDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is a batch of file events that arrived within one debounce window.
// Files maps each changed path to its last operation.
type Change struct {
	Files map[string]Operation
}

// Paths returns the changed paths in sorted order.
func (c Change) Paths() []string {
	paths := make([]string, 0, len(c.Files))
	for p := range c.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Watcher reports debounced changes to supported files in a directory.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher. A non-positive debounce uses DefaultDebounce.
func NewWatcher(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{watcher: w, debounce: debounce, logger: logger}, nil
}

// Watch starts monitoring dir. The returned channel is closed when ctx is done or
// the watcher is stopped.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Change, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	changes := make(chan Change, 1)

	go func() {
		defer close(changes)

		pending := make(map[string]Operation)
		timer := time.NewTimer(w.debounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !Supported(event.Name) {
					continue
				}
				op, ok := operation(event.Op)
				if !ok {
					continue
				}
				pending[event.Name] = op
				timer.Reset(w.debounce)
			case <-timer.C:
				if len(pending) == 0 {
					continue
				}
				batch := Change{Files: pending}
				pending = make(map[string]Operation)
				select {
				case changes <- batch:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("file watcher error", "dir", dir, "error", err)
			}
		}
	}()

	return changes, nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func operation(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return FileCreated, true
	case op.Has(fsnotify.Write):
		return FileModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return FileDeleted, true
	default:
		return 0, false
	}
}
