package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// New creates a new formatter based on configuration.
//
// Parameters:
//   - cfg: Formatter configuration
//
// Returns a configured Formatter.
func New(cfg Config) Formatter {
	// Set defaults.
	if cfg.Format == "" {
		cfg.Format = FormatTable
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	switch cfg.Format {
	case FormatJSON:
		return &jsonFormatter{config: cfg}
	case FormatSimple:
		return &simpleFormatter{config: cfg}
	case FormatTable:
		fallthrough
	default:
		return &tableFormatter{config: cfg}
	}
}

// ParseFormat returns the Format named by s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatSimple:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or simple)", s)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	return humanize.Comma(n)
}

// formatBytes formats a byte count in SI units.
func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// formatTime formats t as an absolute or relative time.
func formatTime(t time.Time, cfg Config) string {
	if t.IsZero() {
		return "-"
	}
	if cfg.ShowTimestamps {
		return t.Format("2006-01-02 15:04:05")
	}
	return humanize.RelTime(t, cfg.Now(), "ago", "from now")
}

// recordStatus describes whether a journaled session is still open.
func recordStatus(open bool, reason string) string {
	if open {
		return "open"
	}
	if reason == "" {
		return "closed"
	}
	return "closed: " + reason
}

// writeHeader writes a section header.
func writeHeader(w io.Writer, title string, compact bool) error {
	if compact {
		_, err := fmt.Fprintf(w, "%s\n", title)
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s\n%s\n\n", title, strings.Repeat("=", len(title)))
	return err
}
