package watcher

import "errors"

// Common errors returned by the watcher.
var (
	// ErrWatcherClosed is returned when attempting to use a closed watcher.
	ErrWatcherClosed = errors.New("watcher is closed")

	// ErrAlreadyStarted is returned when Start is called on a running watcher.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrCircuitBreakerOpen is returned when the circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidPath is returned when the watched path is not a regular file.
	ErrInvalidPath = errors.New("invalid watch path")

	// ErrFileNotFound is returned when the watched file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrWatchLost is returned when the watched file is removed or renamed.
	ErrWatchLost = errors.New("watched file was removed or renamed")
)

// IsFatal reports whether err ends the watch. Other errors on the Errors
// channel are informational.
func IsFatal(err error) bool {
	return errors.Is(err, ErrWatchLost) || errors.Is(err, ErrCircuitBreakerOpen)
}
