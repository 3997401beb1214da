// Package stats keeps an operational journal of tail sessions.
//
// Each watched file gets one SessionRecord that accumulates across runs:
// when it was opened and closed, how much was delivered, how often the file
// was truncated, and why the last session ended. The journal never stores
// read offsets; every session starts from a fresh snapshot.
//
// Example usage:
//
//	store, err := stats.Open(stats.Config{
//	    DBPath: "~/.config/logwatch/sessions.db",
//	}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	records, err := store.List()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, r := range records {
//	    fmt.Printf("%s: %d lines\n", r.Path, r.LinesDelivered)
//	}
package stats

import "time"

// SessionRecord is the journal entry for one file path.
type SessionRecord struct {
	// Path is the absolute path of the watched file.
	Path string `json:"path"`

	// FirstOpened is when the file was first watched.
	FirstOpened time.Time `json:"first_opened"`

	// LastOpened is when the most recent session started.
	LastOpened time.Time `json:"last_opened"`

	// LastClosed is when the most recent session ended (zero while open).
	LastClosed time.Time `json:"last_closed,omitempty"`

	// Opens counts sessions started for this path.
	Opens int64 `json:"opens"`

	// Reconciliations counts delta reads performed.
	Reconciliations int64 `json:"reconciliations"`

	// Resets counts truncations detected.
	Resets int64 `json:"resets"`

	// BytesDelivered is the number of file bytes consumed by delta reads.
	BytesDelivered int64 `json:"bytes_delivered"`

	// LinesDelivered is the number of lines broadcast, counted once per
	// broadcast regardless of subscriber count.
	LinesDelivered int64 `json:"lines_delivered"`

	// PeakSubscribers is the largest subscriber count seen.
	PeakSubscribers int `json:"peak_subscribers"`

	// CloseReason describes how the most recent session ended.
	CloseReason string `json:"close_reason,omitempty"`

	// LastError is the most recent error that ended a session.
	LastError string `json:"last_error,omitempty"`
}

// Open reports whether a session for the path is currently running, or
// ended without being recorded as closed.
func (r *SessionRecord) Open() bool {
	return r.LastClosed.Before(r.LastOpened)
}

// Activity is a batch of counters to add to a record.
type Activity struct {
	Reconciliations int64
	Resets          int64
	Bytes           int64
	Lines           int64

	// Subscribers is the current subscriber count, used for the peak.
	Subscribers int
}

// Store persists session records.
type Store interface {
	// Opened records the start of a session.
	Opened(path string, at time.Time) error

	// Record adds activity counters to the path's record.
	Record(path string, a Activity) error

	// Closed records the end of a session. err may be nil.
	Closed(path string, at time.Time, reason string, err error) error

	// Get returns the record for path, or ErrRecordNotFound.
	Get(path string) (*SessionRecord, error)

	// List returns all records, most recently opened first.
	List() ([]*SessionRecord, error)

	// Delete removes the record for path. Missing records are not an error.
	Delete(path string) error

	// Prune removes records whose last activity is before cutoff and
	// returns how many were removed.
	Prune(cutoff time.Time) (int, error)

	// Close releases resources.
	Close() error
}

// Config contains journal configuration.
type Config struct {
	// DBPath is the BoltDB file path. Empty selects an in-memory journal.
	DBPath string

	// Timeout is how long to wait for the database file lock (default: 1 second).
	Timeout time.Duration

	// ReadOnly opens an existing database without write access. A running
	// server holds the file lock, so read-only opens wait up to Timeout.
	ReadOnly bool
}
