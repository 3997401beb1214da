package reader

import "errors"

// Common errors returned by the reader.
var (
	// ErrFileNotFound is returned when the file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrPermissionDenied is returned when file access is denied.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrShortRead is returned when fewer bytes than the observed size could
	// be read, usually because the file is being rewritten.
	ErrShortRead = errors.New("short read")

	// ErrInvalidAnchor is returned when Reset is given a negative offset.
	ErrInvalidAnchor = errors.New("invalid anchor")
)
