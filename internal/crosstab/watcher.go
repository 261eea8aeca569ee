package crosstab

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type WatcherOptions struct {
	Key    string
	Origin string
	Logger *slog.Logger
}

// FileWatcher turns changes to a shared metadata file into Events. Writes
// stamped with the watcher's own origin are skipped.
type FileWatcher struct {
	path   string
	key    string
	origin string
	logger *slog.Logger
	last   []byte
}

func NewFileWatcher(path string, opts WatcherOptions) *FileWatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileWatcher{
		path:   filepath.Clean(path),
		key:    opts.Key,
		origin: opts.Origin,
		logger: logger,
	}
}

func (w *FileWatcher) Path() string {
	return w.path
}

// Run watches the file's directory until ctx is done. The directory must
// exist.
func (w *FileWatcher) Run(ctx context.Context, out chan<- Event) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.last, _ = os.ReadFile(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			change, ok := w.poll()
			if !ok {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("metadata watcher error", "err", err)
		}
	}
}

func (w *FileWatcher) poll() (Event, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("read metadata file failed", "path", w.path, "err", err)
		return Event{}, false
	}
	if bytes.Equal(data, w.last) {
		return Event{}, false
	}
	w.last = data
	if len(data) > 0 && w.origin != "" && blobOrigin(data) == w.origin {
		return Event{}, false
	}
	return Event{Key: w.key, NewValue: string(data)}, true
}
