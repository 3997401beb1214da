// Package broadcast fans messages out to subscribers without letting one
// slow subscriber hold up the others.
//
// Every Subscriber owns a bounded queue drained by a single writer
// goroutine, so messages reach each transport in the order they were
// broadcast. A subscriber whose queue fills up, or whose unsent bytes pass
// MaxPendingBytes, is disconnected rather than allowed to stall delivery.
//
// Example usage:
//
//	b := broadcast.New(broadcast.Config{QueueSize: 64}, logger.Default())
//	sub, err := b.Add(conn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b.Broadcast(broadcast.Message{Kind: broadcast.KindDelta, Lines: lines})
package broadcast

import (
	"context"
	"strings"
	"time"
)

// Kind identifies what a message carries.
type Kind int

const (
	// KindSnapshot is the tail sent to a new subscriber.
	KindSnapshot Kind = iota + 1

	// KindDelta carries lines appended since the previous message.
	KindDelta

	// KindReset carries a fresh tail after the file was truncated.
	KindReset

	// KindClosed announces that the stream has ended.
	KindClosed
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	case KindReset:
		return "reset"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one unit of delivery.
type Message struct {
	Kind  Kind
	Lines []string

	// Reason explains a KindClosed message.
	Reason string

	payload string
	encoded bool
}

// Payload returns the lines joined with '\n', without a trailing separator.
func (m Message) Payload() string {
	if m.encoded {
		return m.payload
	}
	return strings.Join(m.Lines, "\n")
}

// Size returns the number of payload bytes.
func (m Message) Size() int64 {
	if m.encoded {
		return int64(len(m.payload))
	}
	var n int
	for i, l := range m.Lines {
		if i > 0 {
			n++
		}
		n += len(l)
	}
	return int64(n)
}

// encode caches the payload so it is built once for all subscribers.
func (m Message) encode() Message {
	if !m.encoded {
		m.payload = strings.Join(m.Lines, "\n")
		m.encoded = true
	}
	return m
}

// Conn is the transport a subscriber writes to.
type Conn interface {
	// Write delivers one message. It should honour ctx's deadline.
	Write(ctx context.Context, msg Message) error

	// Close releases the transport. Reason is shown to the peer when the
	// transport supports it.
	Close(reason string) error
}

// Config contains per-subscriber delivery settings.
type Config struct {
	// QueueSize is the number of messages buffered per subscriber.
	// Default: 64.
	QueueSize int

	// MaxPendingBytes is the number of unsent payload bytes after which a
	// subscriber is disconnected. Default: 1MB.
	MaxPendingBytes int64

	// WriteTimeout bounds a single Conn.Write. Default: 5s.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxPendingBytes <= 0 {
		c.MaxPendingBytes = 1024 * 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Info describes a subscriber for status reporting.
type Info struct {
	ID           string    `json:"id"`
	Joined       time.Time `json:"joined"`
	Delivered    int64     `json:"delivered"`
	PendingBytes int64     `json:"pending_bytes"`
}
