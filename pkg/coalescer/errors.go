package coalescer

import "errors"

// Common errors returned by the coalescer.
var (
	// ErrNilFunc is returned when no callback is given.
	ErrNilFunc = errors.New("callback is required")

	// ErrInvalidMaxWait is returned when MaxWait is shorter than QuietWindow.
	ErrInvalidMaxWait = errors.New("max wait must be zero or at least the quiet window")
)
