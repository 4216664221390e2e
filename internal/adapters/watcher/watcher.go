// Package watcher implements Watcher (§4.5's make-loop trigger "manually
// modified target"): an fsnotify-based detector for filesystem changes
// that did not pass through any job's Recorder, so the make loop treats
// them as candidate manual modifications rather than trusting a cached
// CRC.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"unique"

	"github.com/fsnotify/fsnotify"

	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.Watcher = (*Watcher)(nil)

// skipDirs are never walked: VCS metadata and the engine's own admin area
// (where JobExec and the server keep scratch state that is never a build
// target) would otherwise drown every real change in noise.
var skipDirs = map[string]bool{
	".git":         true,
	".jj":          true,
	"node_modules": true,
	".forge-admin": true,
}

const eventChannelBuffer = 256

// Watcher implements ports.Watcher using fsnotify.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      unique.Handle[string]
	events    chan ports.WatchEvent
}

// New creates a Watcher.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsw,
		events:    make(chan ports.WatchEvent, eventChannelBuffer),
	}, nil
}

// Start implements ports.Watcher: walk root, watch every directory found,
// and begin converting raw fsnotify events in the background.
func (w *Watcher) Start(ctx context.Context, root string) error {
	w.root = unique.Make(root)

	for dir := range w.walk(root) {
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)
	return nil
}

// Stop implements ports.Watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// Events implements ports.Watcher.
func (w *Watcher) Events() iter.Seq[ports.WatchEvent] {
	return func(yield func(ports.WatchEvent) bool) {
		for event := range w.events {
			if !yield(event) {
				return
			}
		}
	}
}

func (w *Watcher) walk(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // skip directories we can't stat rather than abort the whole walk
			}
			if !d.IsDir() {
				return nil
			}
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			we := convertEvent(event)
			if we == nil {
				continue
			}
			select {
			case w.events <- *we:
			case <-ctx.Done():
				return
			}
			if we.Operation == ports.OpCreate {
				w.maybeWatchNewDir(event.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watcher: filesystem error: %v\n", err)
		}
	}
}

func (w *Watcher) maybeWatchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || skipDirs[info.Name()] {
		return
	}
	for dir := range w.walk(path) {
		_ = w.fsWatcher.Add(dir)
	}
}

func convertEvent(event fsnotify.Event) *ports.WatchEvent {
	switch {
	case event.Op&fsnotify.Write == fsnotify.Write:
		return &ports.WatchEvent{Path: event.Name, Operation: ports.OpWrite}
	case event.Op&fsnotify.Create == fsnotify.Create:
		return &ports.WatchEvent{Path: event.Name, Operation: ports.OpCreate}
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		return &ports.WatchEvent{Path: event.Name, Operation: ports.OpRemove}
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		return &ports.WatchEvent{Path: event.Name, Operation: ports.OpRename}
	default:
		return nil
	}
}
