package display

import (
	"fmt"
	"io"

	"github.com/0xmhha/logwatch/pkg/session"
	"github.com/0xmhha/logwatch/pkg/stats"
)

// simpleFormatter formats output as simple text.
type simpleFormatter struct {
	config Config
}

// FormatRecords implements Formatter.FormatRecords.
func (f *simpleFormatter) FormatRecords(w io.Writer, records []*stats.SessionRecord) error {
	for _, r := range records {
		if err := f.FormatRecord(w, r); err != nil {
			return err
		}
	}
	return nil
}

// FormatRecord implements Formatter.FormatRecord.
func (f *simpleFormatter) FormatRecord(w io.Writer, r *stats.SessionRecord) error {
	_, err := fmt.Fprintf(w, "%s: %s lines, %s in %d opens (%s, last opened %s)\n",
		r.Path,
		formatNumber(r.LinesDelivered),
		formatBytes(r.BytesDelivered),
		r.Opens,
		recordStatus(r.Open(), r.CloseReason),
		formatTime(r.LastOpened, f.config))
	return err
}

// FormatSessions implements Formatter.FormatSessions.
func (f *simpleFormatter) FormatSessions(w io.Writer, sessions []session.Info) error {
	for _, s := range sessions {
		if _, err := fmt.Fprintf(w, "%s: %s, %d subscribers, anchor %s, since %s\n",
			s.Path,
			s.State,
			len(s.Subscribers),
			formatBytes(s.Anchor),
			formatTime(s.Since, f.config)); err != nil {
			return err
		}
	}
	return nil
}
