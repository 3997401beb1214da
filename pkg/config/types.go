// Package config provides configuration management for logwatch.
//
// Configuration is loaded from multiple sources with the following precedence:
// 1. Command-line flags (highest priority)
// 2. Environment variables
// 3. Configuration file
// 4. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("tailing %d file(s), last %d lines\n", len(cfg.Files), cfg.Tail.Lines)
package config

import (
	"fmt"
	"time"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// Config represents the complete application configuration.
type Config struct {
	// Files that viewers may tail. The first entry is the default.
	Files []FileConfig `yaml:"files"`

	// Tail controls the initial snapshot.
	Tail TailConfig `yaml:"tail"`

	// Coalesce controls change-notification debouncing.
	Coalesce CoalesceConfig `yaml:"coalesce"`

	// Reader controls incremental reads.
	Reader ReaderConfig `yaml:"reader"`

	// Delivery controls per-subscriber flow control.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Server settings
	Server ServerConfig `yaml:"server"`

	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// FileConfig names one tailable file.
type FileConfig struct {
	// Name is the identifier viewers use (?file=<name>).
	Name string `yaml:"name"`

	// Path is the file system path of the log.
	Path string `yaml:"path"`
}

// TailConfig contains snapshot settings.
type TailConfig struct {
	// Number of lines sent to a newly connected viewer
	Lines int `yaml:"lines"`

	// Bytes read per step of the backward scan
	ChunkSize int `yaml:"chunk_size"`
}

// CoalesceConfig contains debounce settings.
type CoalesceConfig struct {
	// Quiet period after the last change before reading
	QuietWindow time.Duration `yaml:"quiet_window"`

	// Upper bound on the delay while changes keep arriving (0 disables)
	MaxWait time.Duration `yaml:"max_wait"`
}

// ReaderConfig contains incremental reader settings.
type ReaderConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxDeltaBytes int64         `yaml:"max_delta_bytes"`
}

// DeliveryConfig contains per-subscriber backpressure settings.
type DeliveryConfig struct {
	// Messages buffered per subscriber
	QueueSize int `yaml:"queue_size"`

	// Buffered bytes after which a subscriber is disconnected
	MaxPendingBytes int64 `yaml:"max_pending_bytes"`

	// Deadline for one transport write
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// Browser origins besides the server's own allowed to open /ws ("*" for any)
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig contains storage-related settings.
type StorageConfig struct {
	// Path to the BoltDB session journal (empty keeps it in memory)
	DBPath string `yaml:"db_path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level"`

	// Log output destination (stdout, stderr, file path)
	Output string `yaml:"output"`

	// Log format (text, json)
	Format string `yaml:"format"`
}

// Validate checks if the configuration satisfies all invariants.
func (c *Config) Validate() error {
	if len(c.Files) == 0 {
		return ErrNoFiles
	}
	seen := make(map[string]bool, len(c.Files))
	for i, f := range c.Files {
		if f.Name == "" || f.Path == "" {
			return fmt.Errorf("%w: files[%d] needs name and path", ErrInvalidFile, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidFile, f.Name)
		}
		seen[f.Name] = true
	}

	if c.Tail.Lines <= 0 {
		return ErrInvalidLines
	}
	if c.Tail.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}

	if c.Coalesce.QuietWindow <= 0 {
		return ErrInvalidQuietWindow
	}
	if c.Coalesce.MaxWait < 0 || (c.Coalesce.MaxWait > 0 && c.Coalesce.MaxWait < c.Coalesce.QuietWindow) {
		return ErrInvalidMaxWait
	}

	if c.Reader.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if c.Reader.MaxDeltaBytes <= 0 {
		return ErrInvalidMaxDeltaBytes
	}

	if c.Delivery.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.Delivery.MaxPendingBytes <= 0 {
		return ErrInvalidMaxPending
	}
	if c.Delivery.WriteTimeout <= 0 {
		return ErrInvalidWriteTimeout
	}

	if c.Server.Addr == "" {
		return ErrInvalidAddr
	}

	if !logger.ValidLevel(c.Logging.Level) {
		return ErrInvalidLogLevel
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validFormats[c.Logging.Format] {
		return ErrInvalidLogFormat
	}

	return nil
}

// File returns the file entry with the given name. An empty name selects the
// first configured file.
func (c *Config) File(name string) (FileConfig, bool) {
	if len(c.Files) == 0 {
		return FileConfig{}, false
	}
	if name == "" {
		return c.Files[0], true
	}
	for _, f := range c.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileConfig{}, false
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Files: defaultFiles(),
		Tail: TailConfig{
			Lines:     10,
			ChunkSize: 8192,
		},
		Coalesce: CoalesceConfig{
			QuietWindow: 100 * time.Millisecond,
			MaxWait:     time.Second,
		},
		Reader: ReaderConfig{
			MaxRetries:    3,
			RetryDelay:    100 * time.Millisecond,
			MaxDeltaBytes: 4 * 1024 * 1024,
		},
		Delivery: DeliveryConfig{
			QueueSize:       64,
			MaxPendingBytes: 1024 * 1024,
			WriteTimeout:    5 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":3000",
		},
		Storage: StorageConfig{
			DBPath: defaultDBPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			Format: "text",
		},
	}
}
