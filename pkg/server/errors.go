package server

import "errors"

// Common errors returned by the server.
var (
	// ErrUnknownFile is returned when a viewer asks for a file that is not
	// in the allowlist.
	ErrUnknownFile = errors.New("unknown file")

	// ErrNoFiles is returned when the server is created without files.
	ErrNoFiles = errors.New("no files configured")

	// ErrInvalidFormat is returned for an unsupported ?format= value.
	ErrInvalidFormat = errors.New("invalid message format")
)
