package session

import "errors"

// Common errors returned by sessions and the manager.
var (
	// ErrManagerClosed is returned when subscribing after Close.
	ErrManagerClosed = errors.New("session manager is closed")

	// ErrSessionEnded is returned when subscribing to a session that has
	// already returned to idle. The manager retries with a fresh session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrEmptyPath is returned when a path is empty.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrNilConn is returned when subscribing without a connection.
	ErrNilConn = errors.New("connection is required")
)
