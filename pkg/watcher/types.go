// Package watcher reports changes to a single file.
//
// It uses fsnotify on the file's parent directory and forwards only the
// events that name the file. Events are not debounced here; callers feed
// them into a coalescer. Removing or renaming the file ends the watch with
// ErrWatchLost, and repeated fsnotify errors open a circuit breaker.
//
// Example usage:
//
//	w, err := watcher.New("/var/log/app.log", watcher.Config{}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    select {
//	    case event := <-w.Events():
//	        fmt.Printf("%s: %s\n", event.Path, event.Op)
//	    case err := <-w.Errors():
//	        if watcher.IsFatal(err) {
//	            return
//	        }
//	    }
//	}
package watcher

import (
	"context"
	"time"
)

// Op describes a file operation type.
type Op uint32

// File operation types.
const (
	OpCreate Op = 1 << iota // File created
	OpWrite                 // File modified
	OpRemove                // File deleted
	OpRename                // File renamed/moved
	OpChmod                 // File permissions changed
)

// String returns a human-readable operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Event represents a change to the watched file.
type Event struct {
	// Path is the absolute path of the watched file.
	Path string

	// Op is the operation that triggered the event.
	Op Op

	// Timestamp is when the event was received.
	Timestamp time.Time
}

// Watcher reports changes to one file.
type Watcher interface {
	// Start begins watching. It returns once the watch is installed; events
	// are delivered until ctx is cancelled, Close is called, or a fatal
	// error is reported.
	Start(ctx context.Context) error

	// Events returns the channel of content changes. When the buffer is full
	// further events are dropped, since one queued event already signals
	// that the file changed. The channel is closed by Close.
	Events() <-chan Event

	// Errors returns the channel of watcher errors. After a fatal error
	// (see IsFatal) no more events are sent. The channel is closed by Close.
	Errors() <-chan error

	// Close stops watching and releases resources. It is idempotent.
	Close() error
}

// Config contains watcher configuration.
type Config struct {
	// EventBuffer is the capacity of the Events channel.
	// Default: 16.
	EventBuffer int

	// CircuitBreakerThreshold is the number of consecutive fsnotify errors
	// after which the watch is abandoned.
	// Default: 5.
	CircuitBreakerThreshold int
}
