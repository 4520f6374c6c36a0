// Package watcher observes the holding area and emits debounced
// "document ready" events once files have stopped changing.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event signals that a staged file has been stable for the quiet
// period. Key is the path relative to the holding area; it is the
// document's identity until delivery.
type Event struct {
	Key  string
	Path string
	Hash string
}

// Gate lets the watcher coalesce duplicate events: a path already
// being processed is not queued twice.
type Gate interface {
	InFlight(key string) bool
}

// Watcher emits ready events for the holding area. The event handler
// does no blocking work; hashing happens on the run loop and all
// processing is handed off through the events channel.
type Watcher struct {
	dir    string
	quiet  time.Duration
	gate   Gate
	logger *slog.Logger
	events chan Event
	ready  chan string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher for the holding directory.
func New(dir string, quiet time.Duration, gate Gate, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		quiet:  quiet,
		gate:   gate,
		logger: logger,
		events: make(chan Event, 16),
		ready:  make(chan string, 16),
		timers: make(map[string]*time.Timer),
	}
}

// Events returns the ready-event channel.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches until ctx is canceled. An unreadable holding area is a
// fatal condition: Run returns an error and intake halts rather than
// silently dropping events.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching holding area %s: %w", w.dir, err)
	}

	// Files dropped while the process was down still get discovered.
	if err := w.scanExisting(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleFsEvent(ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if _, statErr := os.Stat(w.dir); statErr != nil {
				return fmt.Errorf("holding area unreadable: %w", statErr)
			}
			w.logger.Warn("watch error", "error", err)

		case path := <-w.ready:
			w.emit(ctx, path)
		}
	}
}

func (w *Watcher) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scanning holding area: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || ignored(entry.Name()) {
			continue
		}
		w.schedule(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	if ev.Name == w.dir && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// Surfaced through fw.Errors / stat on the next loop pass.
		w.logger.Error("holding area removed", "dir", w.dir)
		return
	}
	if ignored(filepath.Base(ev.Name)) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.schedule(ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename emits Create for the new name; drop the old timer.
		w.cancel(ev.Name)
	}
}

// schedule starts or resets the quiet-period timer for a path, so a
// file still being written never fires.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.quiet)
		return
	}
	w.timers[path] = time.AfterFunc(w.quiet, func() { w.signalReady(path) })
}

// signalReady queues a quiet file for emission. A full queue re-arms
// the timer instead of dropping, so a burst never strands a file until
// the next restart.
func (w *Watcher) signalReady(path string) {
	select {
	case w.ready <- path:
		return
	default:
	}

	w.logger.Warn("ready queue full, retrying after quiet period", "path", path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.quiet)
	}
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) emit(ctx context.Context, path string) {
	w.cancel(path)

	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("file gone before ready", "path", path)
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	key, err := filepath.Rel(w.dir, path)
	if err != nil {
		w.logger.Warn("path outside holding area", "path", path)
		return
	}

	if w.gate != nil && w.gate.InFlight(key) {
		w.logger.Info("coalescing event for in-flight document", "document", key)
		return
	}

	hash, err := hashFile(path)
	if err != nil {
		w.logger.Warn("hashing failed", "path", path, "error", err)
		return
	}

	select {
	case w.events <- Event{Key: key, Path: path, Hash: hash}:
	case <-ctx.Done():
	}
}

// ignored filters editor temp files and hidden files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
