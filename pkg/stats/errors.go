package stats

import "errors"

// Common errors returned by the journal.
var (
	// ErrRecordNotFound is returned when no record exists for a path.
	ErrRecordNotFound = errors.New("record not found")

	// ErrEmptyPath is returned when a path is empty.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrReadOnly is returned when writing to a journal opened read-only.
	ErrReadOnly = errors.New("journal is read-only")
)
