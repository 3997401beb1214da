package display

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/0xmhha/logwatch/pkg/session"
	"github.com/0xmhha/logwatch/pkg/stats"
)

// tableFormatter formats output as tables.
type tableFormatter struct {
	config Config
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// FormatRecords implements Formatter.FormatRecords.
func (f *tableFormatter) FormatRecords(w io.Writer, records []*stats.SessionRecord) error {
	if err := writeHeader(w, "Session Journal", f.config.Compact); err != nil {
		return err
	}

	header := []string{"File", "Status", "Opens", "Lines", "Bytes", "Resets", "Peak", "Last Opened"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.Path,
			recordStatus(r.Open(), r.CloseReason),
			formatNumber(r.Opens),
			formatNumber(r.LinesDelivered),
			formatBytes(r.BytesDelivered),
			formatNumber(r.Resets),
			strconv.Itoa(r.PeakSubscribers),
			formatTime(r.LastOpened, f.config),
		}
	}

	return f.writeTable(w, header, rows, aligns)
}

// FormatRecord implements Formatter.FormatRecord.
func (f *tableFormatter) FormatRecord(w io.Writer, r *stats.SessionRecord) error {
	if err := writeHeader(w, r.Path, f.config.Compact); err != nil {
		return err
	}

	rows := [][]string{
		{"Status", recordStatus(r.Open(), r.CloseReason)},
		{"Opens", formatNumber(r.Opens)},
		{"Reconciliations", formatNumber(r.Reconciliations)},
		{"Resets", formatNumber(r.Resets)},
		{"Lines Delivered", formatNumber(r.LinesDelivered)},
		{"Bytes Delivered", formatBytes(r.BytesDelivered)},
		{"Peak Subscribers", strconv.Itoa(r.PeakSubscribers)},
		{"First Opened", formatTime(r.FirstOpened, f.config)},
		{"Last Opened", formatTime(r.LastOpened, f.config)},
		{"Last Closed", formatTime(r.LastClosed, f.config)},
	}
	if r.LastError != "" {
		rows = append(rows, []string{"Last Error", r.LastError})
	}

	return f.writeTable(w, []string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

// FormatSessions implements Formatter.FormatSessions.
func (f *tableFormatter) FormatSessions(w io.Writer, sessions []session.Info) error {
	if err := writeHeader(w, "Live Sessions", f.config.Compact); err != nil {
		return err
	}

	header := []string{"File", "State", "Subscribers", "Anchor", "Reconciliations", "Resets", "Since"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		rows[i] = []string{
			s.Path,
			s.State,
			strconv.Itoa(len(s.Subscribers)),
			formatBytes(s.Anchor),
			formatNumber(s.Reconciliations),
			formatNumber(s.Resets),
			formatTime(s.Since, f.config),
		}
	}

	return f.writeTable(w, header, rows, aligns)
}

// writeTable writes a formatted table.
func (f *tableFormatter) writeTable(w io.Writer, headers []string, rows [][]string, aligns []columnAlignment) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No data")
		return err
	}

	columns := len(headers)

	tw := table.NewWriter()
	if f.config.Compact {
		tw.SetStyle(table.StyleLight)
		tw.Style().Options.DrawBorder = false
	} else {
		tw.SetStyle(table.StyleRounded)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
		return err
	}

	// Add spacing.
	if !f.config.Compact {
		_, err := fmt.Fprintln(w)
		return err
	}
	return nil
}
