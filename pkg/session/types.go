// Package session ties one watched file to its subscribers.
//
// A LogSession is Idle until its first subscriber arrives. It then takes a
// tail snapshot, starts watching the file, and moves to Watching. Change
// notifications are coalesced into reconciliations, each of which reads the
// appended bytes once and broadcasts the same delta to every subscriber.
// When the last subscriber leaves, or the watch is lost, the session stops
// its watch and returns to Idle for good; the Manager creates a fresh
// session for the next subscriber.
//
// Example usage:
//
//	mgr := session.NewManager(session.Config{Lines: 10}, logger.Default())
//	defer mgr.Close()
//
//	sub, err := mgr.Subscribe(ctx, "/var/log/app.log", conn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Unsubscribe("/var/log/app.log", sub.ID())
package session

import (
	"time"

	"github.com/0xmhha/logwatch/pkg/broadcast"
	"github.com/0xmhha/logwatch/pkg/coalescer"
	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/reader"
	"github.com/0xmhha/logwatch/pkg/stats"
	"github.com/0xmhha/logwatch/pkg/watcher"
)

// State is a session's lifecycle state.
type State int

const (
	// StateIdle means no watch is active.
	StateIdle State = iota

	// StateWatching means the file is watched and subscribers are served.
	StateWatching
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	default:
		return "unknown"
	}
}

// WatcherFactory creates the file watcher for a session.
type WatcherFactory func(path string, log logger.Logger) (watcher.Watcher, error)

// Config contains session configuration shared by every session of a manager.
type Config struct {
	// Lines is the snapshot size sent to new subscribers. Default: 10.
	Lines int

	// ChunkSize is the backward scan step. Default: 8192.
	ChunkSize int

	// Coalesce controls debouncing of change notifications.
	Coalesce coalescer.Config

	// Reader controls incremental reads.
	Reader reader.Config

	// Delivery controls per-subscriber queues.
	Delivery broadcast.Config

	// NewWatcher creates watchers. Default: fsnotify-based watcher.
	NewWatcher WatcherFactory

	// Stats receives session activity. Default: none.
	Stats stats.Store
}

func (c Config) withDefaults() Config {
	if c.Lines <= 0 {
		c.Lines = 10
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8192
	}
	if c.NewWatcher == nil {
		c.NewWatcher = func(path string, log logger.Logger) (watcher.Watcher, error) {
			return watcher.New(path, watcher.Config{}, log)
		}
	}
	return c
}

// Info describes a session for status reporting.
type Info struct {
	Path            string           `json:"path"`
	State           string           `json:"state"`
	Since           time.Time        `json:"since"`
	Anchor          int64            `json:"anchor"`
	Reconciliations int64            `json:"reconciliations"`
	Resets          int64            `json:"resets"`
	Subscribers     []broadcast.Info `json:"subscribers"`
}
