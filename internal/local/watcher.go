package local

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/smog/internal/logging"
)

type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes to content files directly inside the watched
// directories. Subdirectories, including the state dir, are not watched.
type Watcher struct {
	watcher   *fsnotify.Watcher
	isContent func(name string) bool
	Events    chan WatchEvent
}

func NewWatcher(dirs []string, isContent func(name string) bool) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create watcher: %w", err)
	}

	w := &Watcher{
		watcher:   watcher,
		isContent: isContent,
		Events:    make(chan WatchEvent),
	}
	for _, dir := range dirs {
		if err = watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("could not add directory '%s' to watcher: %w", dir, err)
		}
		logging.Debugf("Added directory to watcher: %s", dir)
	}
	return w, nil
}

func (w *Watcher) Close() {
	if err := w.watcher.Close(); err != nil {
		logging.Errorf("Error closing watcher: %s", err)
	}
}

// Run forwards relevant events until ctx is done or the underlying watcher
// is closed. Events is closed when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || !w.isContent(filepath.Base(event.Name)) {
				continue
			}
			select {
			case w.Events <- WatchEvent{Path: event.Name, Op: event.Op}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Errorf("FSNotify Error: %v", err)
		}
	}
}
