// Package reader provides incremental file reading from a byte anchor.
//
// A Cursor remembers how far into a file it has read. Each Read returns the
// complete lines appended since the previous one and advances the anchor to
// the size it observed. A trailing fragment without a newline is held back
// until its line is finished. When the file becomes shorter than the anchor
// the Cursor reports a reset instead of reading, and the owner re-anchors it.
//
// Example usage:
//
//	snap, _ := tail.ReadLast(ctx, path, 10, tail.DefaultChunkSize)
//	c := reader.New(path, reader.Config{}, logger.Default())
//	c.Reset(snap.Anchor)
//
//	delta, err := c.Read(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if delta.Reset {
//	    // file was truncated: take a new snapshot and call c.Reset
//	}
package reader

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"
)

// Delta is the result of one incremental read.
type Delta struct {
	// Lines are the complete lines appended since the previous read.
	Lines []string

	// Anchor is the offset the cursor advanced to.
	Anchor int64

	// Bytes is the number of file bytes consumed.
	Bytes int64

	// Reset reports that the file shrank below the anchor. Nothing was read
	// and the anchor is unchanged.
	Reset bool
}

// Empty reports whether the delta carries no lines and no reset.
func (d Delta) Empty() bool {
	return len(d.Lines) == 0 && !d.Reset
}

// Config contains reader configuration.
type Config struct {
	// MaxRetries is the maximum number of retry attempts for transient errors.
	// Default: 3.
	MaxRetries int

	// RetryDelay is the base delay between retry attempts.
	// Uses exponential backoff: delay * 2^attempt.
	// Default: 100ms.
	RetryDelay time.Duration

	// MaxDeltaBytes is the largest single read from the file. Larger deltas
	// are consumed in pieces of this size.
	// Default: 4MB.
	MaxDeltaBytes int64

	// Clock drives retry backoff. Default: wall clock.
	Clock clock.Clock

	// Open opens the file for each read attempt. Default: os.Open.
	Open func(name string) (*os.File, error)
}
