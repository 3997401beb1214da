package tail

import "errors"

// Common errors returned by the tail scanner.
var (
	// ErrFileNotFound is returned when the file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrPermissionDenied is returned when the file cannot be opened for reading.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotRegularFile is returned when the path names a directory or device.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrShortRead is returned when the file shrank while it was being scanned.
	ErrShortRead = errors.New("file shrank during scan")
)
