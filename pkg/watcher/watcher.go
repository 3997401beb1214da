package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// watcher implements the Watcher interface using fsnotify.
type watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger logger.Logger
	config Config

	events chan Event
	errors chan error

	mu       sync.Mutex
	running  bool
	closed   bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Circuit breaker state.
	failureCount int
	lastFailure  time.Time
}

// New creates a watcher for the file at path.
func New(path string, cfg Config, log logger.Logger) (Watcher, error) {
	// Set defaults.
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if log == nil {
		log = logger.Noop()
	}

	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	// Create fsnotify watcher.
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &watcher{
		path:     abs,
		fsw:      fsw,
		logger:   log.With("path", abs),
		config:   cfg,
		events:   make(chan Event, cfg.EventBuffer),
		errors:   make(chan error, cfg.CircuitBreakerThreshold+1),
		stopChan: make(chan struct{}),
	}, nil
}

// Start implements Watcher.Start.
func (w *watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.running {
		return ErrAlreadyStarted
	}

	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, w.path)
		}
		return fmt.Errorf("failed to stat path %s: %w", w.path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, w.path)
	}

	// The directory is watched so that removal and rename are seen
	// uniformly across platforms.
	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to add path %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Debug("watcher started", "dir", dir)
	return nil
}

// Events implements Watcher.Events.
func (w *watcher) Events() <-chan Event {
	return w.events
}

// Errors implements Watcher.Errors.
func (w *watcher) Errors() <-chan error {
	return w.errors
}

// Close implements Watcher.Close.
func (w *watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopChan)
	w.mu.Unlock()

	// The event loop is the only sender; wait for it before closing channels.
	w.wg.Wait()
	close(w.events)
	close(w.errors)

	if err := w.fsw.Close(); err != nil {
		w.logger.Error("failed to close fsnotify watcher", "error", err)
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Debug("watcher closed")
	return nil
}

// processEvents handles events from fsnotify until stopped or a fatal error.
func (w *watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("event processing stopped", "reason", "context cancelled")
			return

		case <-w.stopChan:
			w.logger.Debug("event processing stopped", "reason", "stop signal")
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				w.logger.Warn("fsnotify events channel closed")
				return
			}

			if fatal := w.handleEvent(event); fatal {
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.logger.Warn("fsnotify errors channel closed")
				return
			}

			if fatal := w.handleError(err); fatal {
				return
			}
		}
	}
}

// handleEvent processes a single fsnotify event and reports whether the
// watch has ended.
func (w *watcher) handleEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}

	// Convert fsnotify op to our Op type.
	var op Op
	switch {
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		op = OpRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		op = OpRename
	case event.Op&fsnotify.Write == fsnotify.Write:
		op = OpWrite
	case event.Op&fsnotify.Create == fsnotify.Create:
		op = OpCreate
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		// Metadata only.
		return false
	default:
		w.logger.Debug("unknown fsnotify operation", "op", event.Op)
		return false
	}

	w.mu.Lock()
	w.failureCount = 0
	w.mu.Unlock()

	if op == OpRemove || op == OpRename {
		w.logger.Warn("watched file is gone", "op", op.String())
		w.sendFatal(fmt.Errorf("%w: %s", ErrWatchLost, strings.ToLower(op.String())))
		return true
	}

	select {
	case w.events <- Event{Path: w.path, Op: op, Timestamp: time.Now()}:
	default:
		// A queued event already signals the change.
	}
	return false
}

// handleError processes fsnotify errors with circuit breaker pattern and
// reports whether the breaker opened.
func (w *watcher) handleError(err error) bool {
	w.mu.Lock()
	w.failureCount++
	w.lastFailure = time.Now()
	count := w.failureCount
	w.mu.Unlock()

	w.logger.Error("fsnotify error",
		"error", err,
		"failure_count", count)

	// Check circuit breaker.
	if count >= w.config.CircuitBreakerThreshold {
		w.logger.Error("circuit breaker opened",
			"threshold", w.config.CircuitBreakerThreshold)
		w.sendFatal(fmt.Errorf("%w: %v", ErrCircuitBreakerOpen, err))
		return true
	}

	w.sendError(err)
	return false
}

func (w *watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("error channel full, dropping error", "error", err)
	}
}

// sendFatal waits for room unless the watcher is closing.
func (w *watcher) sendFatal(err error) {
	select {
	case w.errors <- err:
	case <-w.stopChan:
	}
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	return filepath.Join(homeDir, path[2:])
}
