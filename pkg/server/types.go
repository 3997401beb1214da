// Package server exposes tail sessions over HTTP and WebSocket.
//
// Routes:
//
//	GET /log               viewer page
//	GET /ws?file=<name>    WebSocket stream of the named file
//	GET /sessions          JSON status of live sessions
//	GET /healthz           liveness probe
//
// A WebSocket upgrade on / is treated like /ws with the default file. Other
// routes get 404.
//
// Each message on the socket is one snapshot, delta or reset. By default it
// carries the lines joined with '\n' and nothing else; with ?format=json it
// is an object with kind and lines, which lets a viewer tell a reset from an
// append. A closed session ends the socket with a close frame whose text is
// the reason.
package server

import (
	"context"
	"io"
	"time"

	"github.com/0xmhha/logwatch/pkg/broadcast"
	"github.com/0xmhha/logwatch/pkg/session"
)

// Sessions is the part of session.Manager the server uses.
type Sessions interface {
	Subscribe(ctx context.Context, path string, conn broadcast.Conn) (*broadcast.Subscriber, error)
	Unsubscribe(path, id string) bool
	Sessions() []session.Info
}

// File is one entry of the allowlist.
type File struct {
	Name string
	Path string
}

// Format selects the WebSocket message encoding.
type Format string

const (
	// FormatText sends the payload lines joined with '\n'.
	FormatText Format = "text"

	// FormatJSON sends {"kind": ..., "lines": [...]}.
	FormatJSON Format = "json"
)

// Config contains server configuration.
type Config struct {
	// Addr is the listen address. Default: ":3000".
	Addr string

	// Files that viewers may tail. The first entry is the default.
	Files []File

	// PingInterval is how often idle sockets are pinged. Default: 30s.
	PingInterval time.Duration

	// PongWait is how long a socket may stay silent. Default: 60s.
	PongWait time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 5s.
	ShutdownTimeout time.Duration

	// Banner receives the startup line with the viewer URL. Default: none.
	Banner io.Writer

	// AllowedOrigins lists browser origins besides the server's own that may
	// open a stream, as "scheme://host[:port]". "*" allows any origin.
	// Default: same origin only.
	AllowedOrigins []string
}

// wireMessage is the JSON encoding of a message.
type wireMessage struct {
	Kind   string   `json:"kind"`
	Lines  []string `json:"lines,omitempty"`
	Reason string   `json:"reason,omitempty"`
}
