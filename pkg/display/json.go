package display

import (
	"encoding/json"
	"io"

	"github.com/0xmhha/logwatch/pkg/session"
	"github.com/0xmhha/logwatch/pkg/stats"
)

// jsonFormatter formats output as JSON.
type jsonFormatter struct {
	config Config
}

// FormatRecords implements Formatter.FormatRecords.
func (f *jsonFormatter) FormatRecords(w io.Writer, records []*stats.SessionRecord) error {
	if records == nil {
		records = []*stats.SessionRecord{}
	}
	return f.encode(w, records)
}

// FormatRecord implements Formatter.FormatRecord.
func (f *jsonFormatter) FormatRecord(w io.Writer, record *stats.SessionRecord) error {
	return f.encode(w, record)
}

// FormatSessions implements Formatter.FormatSessions.
func (f *jsonFormatter) FormatSessions(w io.Writer, sessions []session.Info) error {
	if sessions == nil {
		sessions = []session.Info{}
	}
	return f.encode(w, sessions)
}

func (f *jsonFormatter) encode(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	if !f.config.Compact {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(v)
}
