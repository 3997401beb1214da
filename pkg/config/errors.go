package config

import "errors"

// Common errors returned by the config package.
var (
	// ErrNoFiles is returned when no tailable files are configured.
	ErrNoFiles = errors.New("no files configured")

	// ErrInvalidFile is returned when a file entry has an empty name or path,
	// or when two entries share a name.
	ErrInvalidFile = errors.New("invalid file entry")

	// ErrInvalidLines is returned when the snapshot line count is <= 0.
	ErrInvalidLines = errors.New("invalid tail lines: must be > 0")

	// ErrInvalidChunkSize is returned when the backward scan chunk size is <= 0.
	ErrInvalidChunkSize = errors.New("invalid chunk size: must be > 0")

	// ErrInvalidQuietWindow is returned when the coalescer quiet window is <= 0.
	ErrInvalidQuietWindow = errors.New("invalid quiet window: must be > 0")

	// ErrInvalidMaxWait is returned when max wait is negative or shorter than
	// the quiet window.
	ErrInvalidMaxWait = errors.New("invalid max wait: must be 0 or >= quiet window")

	// ErrInvalidRetries is returned when reader retries are negative.
	ErrInvalidRetries = errors.New("invalid reader retries: must be >= 0")

	// ErrInvalidMaxDeltaBytes is returned when the per-read limit is <= 0.
	ErrInvalidMaxDeltaBytes = errors.New("invalid max delta bytes: must be > 0")

	// ErrInvalidQueueSize is returned when the subscriber queue size is <= 0.
	ErrInvalidQueueSize = errors.New("invalid queue size: must be > 0")

	// ErrInvalidMaxPending is returned when the per-subscriber byte limit is <= 0.
	ErrInvalidMaxPending = errors.New("invalid max pending bytes: must be > 0")

	// ErrInvalidWriteTimeout is returned when the write timeout is <= 0.
	ErrInvalidWriteTimeout = errors.New("invalid write timeout: must be > 0")

	// ErrInvalidAddr is returned when the server listen address is empty.
	ErrInvalidAddr = errors.New("invalid server address")

	// ErrInvalidLogLevel is returned when log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level: must be debug, info, warn, or error")

	// ErrInvalidLogFormat is returned when log format is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrConfigNotFound is returned when config file is not found.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML is returned when config file has invalid YAML syntax.
	ErrInvalidYAML = errors.New("invalid YAML syntax in config file")
)
