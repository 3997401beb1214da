package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// Cursor reads a single file incrementally. It is safe for concurrent use,
// but reads are serialized.
type Cursor struct {
	path   string
	config Config
	clock  clock.Clock
	logger logger.Logger

	mu     sync.Mutex
	anchor int64
	carry  []byte
}

// New creates a cursor for path anchored at offset 0.
func New(path string, cfg Config, log logger.Logger) *Cursor {
	// Set defaults.
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.MaxDeltaBytes <= 0 {
		cfg.MaxDeltaBytes = 4 * 1024 * 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Open == nil {
		cfg.Open = os.Open
	}
	if log == nil {
		log = logger.Noop()
	}

	return &Cursor{
		path:   path,
		config: cfg,
		clock:  cfg.Clock,
		logger: log.With("path", path),
	}
}

// Path returns the file the cursor reads.
func (c *Cursor) Path() string {
	return c.path
}

// Anchor returns the offset up to which the file has been consumed.
func (c *Cursor) Anchor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchor
}

// Buffered returns the length of the held-back partial line.
func (c *Cursor) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.carry)
}

// Reset moves the anchor and discards any partial line.
func (c *Cursor) Reset(anchor int64) error {
	if anchor < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAnchor, anchor)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.anchor = anchor
	c.carry = nil
	c.logger.Debug("cursor reset", "anchor", anchor)
	return nil
}

// Read returns the complete lines appended since the previous read.
//
// If the file is unchanged the delta is empty. If it shrank below the anchor,
// Delta.Reset is set and nothing else changes. On error the anchor and the
// partial line are left as they were, so the next call covers the same range.
func (c *Cursor) Read(ctx context.Context) (Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta, carry, err := c.readWithRetry(ctx)
	if err != nil {
		return Delta{Anchor: c.anchor}, err
	}
	if delta.Reset || delta.Bytes == 0 {
		return delta, nil
	}

	c.anchor = delta.Anchor
	c.carry = carry

	c.logger.Debug("read complete",
		"lines", len(delta.Lines),
		"bytes", delta.Bytes,
		"anchor", delta.Anchor)

	return delta, nil
}

// readWithRetry reads the file with retry logic.
func (c *Cursor) readWithRetry(ctx context.Context) (Delta, []byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff.
			backoffMultiplier := 1 << (attempt - 1) // nolint:gosec // Attempt is bounded by MaxRetries
			delay := c.config.RetryDelay * time.Duration(backoffMultiplier)
			c.logger.Debug("retrying read",
				"attempt", attempt,
				"delay", delay)

			select {
			case <-ctx.Done():
				return Delta{}, nil, ctx.Err()
			case <-c.clock.After(delay):
			}
		}

		delta, carry, err := c.readOnce(ctx)
		if err == nil {
			return delta, carry, nil
		}

		lastErr = err

		if !isRetryable(err) {
			c.logger.Debug("non-retryable error", "error", err)
			return Delta{}, nil, err
		}

		c.logger.Warn("read attempt failed",
			"attempt", attempt,
			"error", err)
	}

	return Delta{}, nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// readOnce reads [anchor, size) without touching cursor state. It returns
// the delta and the partial line that should be carried forward.
func (c *Cursor) readOnce(ctx context.Context) (Delta, []byte, error) {
	if err := ctx.Err(); err != nil {
		return Delta{}, nil, err
	}

	f, err := c.config.Open(c.path)
	if err != nil {
		return Delta{}, nil, classify(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Delta{}, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	size := info.Size()
	switch {
	case size < c.anchor:
		c.logger.Info("file was truncated",
			"anchor", c.anchor,
			"file_size", size)
		return Delta{Anchor: c.anchor, Reset: true}, c.carry, nil
	case size == c.anchor:
		return Delta{Anchor: c.anchor}, c.carry, nil
	}

	var lines []string
	pending := append([]byte(nil), c.carry...)
	offset := c.anchor

	for offset < size {
		if err := ctx.Err(); err != nil {
			return Delta{}, nil, err
		}

		n := size - offset
		if n > c.config.MaxDeltaBytes {
			n = c.config.MaxDeltaBytes
		}

		piece := make([]byte, n)
		read, err := f.ReadAt(piece, offset)
		if int64(read) < n {
			if err == nil || errors.Is(err, io.EOF) {
				return Delta{}, nil, ErrShortRead
			}
			return Delta{}, nil, fmt.Errorf("failed to read file: %w", err)
		}

		pending = append(pending, piece...)
		lines, pending = appendLines(lines, pending)
		offset += n
	}

	return Delta{
		Lines:  lines,
		Anchor: size,
		Bytes:  size - c.anchor,
	}, pending, nil
}

// appendLines moves every newline-terminated line from buf onto lines and
// returns the unterminated remainder.
func appendLines(lines []string, buf []byte) ([]string, []byte) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(buf[:i]))
		buf = buf[i+1:]
	}
	if len(buf) == 0 {
		return lines, nil
	}
	return lines, append([]byte(nil), buf...)
}

func classify(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrFileNotFound
	case errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	default:
		return fmt.Errorf("failed to open file: %w", err)
	}
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return false
	case errors.Is(err, ErrPermissionDenied):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		// Retry unknown errors.
		return true
	}
}
