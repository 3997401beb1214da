// Package display provides output formatting for session journals and live
// session status.
//
// It supports multiple output formats (table, JSON, simple text).
package display

import (
	"io"
	"time"

	"github.com/0xmhha/logwatch/pkg/session"
	"github.com/0xmhha/logwatch/pkg/stats"
)

// Format represents an output format.
type Format string

const (
	// FormatTable displays data in a formatted table.
	FormatTable Format = "table"

	// FormatJSON displays data as JSON.
	FormatJSON Format = "json"

	// FormatSimple displays data in simple text format.
	FormatSimple Format = "simple"
)

// Formatter formats journal records and session status.
type Formatter interface {
	// FormatRecords formats journal records, one per file.
	//
	// Parameters:
	//   - w: Output writer
	//   - records: Records to format
	//
	// Returns error if formatting fails.
	FormatRecords(w io.Writer, records []*stats.SessionRecord) error

	// FormatRecord formats a single journal record in detail.
	FormatRecord(w io.Writer, record *stats.SessionRecord) error

	// FormatSessions formats live sessions of a running server.
	FormatSessions(w io.Writer, sessions []session.Info) error
}

// Config contains formatter configuration.
type Config struct {
	// Format specifies the output format.
	// Default: FormatTable.
	Format Format

	// ShowTimestamps shows absolute times instead of relative ones.
	// Default: false.
	ShowTimestamps bool

	// Compact enables compact output (less whitespace).
	// Default: false.
	Compact bool

	// Now is the reference for relative times.
	// Default: time.Now.
	Now func() time.Time
}
