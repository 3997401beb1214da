package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xmhha/logwatch/pkg/broadcast"
)

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// wsConn adapts a WebSocket connection to broadcast.Conn. Write is only ever
// called from the subscriber's writer goroutine; pings use WriteControl,
// which may run concurrently with it.
type wsConn struct {
	ws     *websocket.Conn
	format Format

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, format Format) *wsConn {
	return &wsConn{ws: ws, format: format}
}

// Write implements broadcast.Conn.
func (c *wsConn) Write(ctx context.Context, msg broadcast.Message) error {
	if msg.Kind == broadcast.KindClosed {
		return c.writeClose(msg.Reason)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.ws.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	data, err := c.encode(msg)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close implements broadcast.Conn.
func (c *wsConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		// The peer may already be gone; the close frame is best effort.
		_ = c.writeClose(reason)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) writeClose(reason string) error {
	// Control frame payloads are limited to 125 bytes, two of them the code.
	if len(reason) > 123 {
		reason = reason[:123]
	}
	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeGrace))
}

func (c *wsConn) encode(msg broadcast.Message) ([]byte, error) {
	switch c.format {
	case FormatJSON:
		data, err := json.Marshal(wireMessage{
			Kind:   msg.Kind.String(),
			Lines:  msg.Lines,
			Reason: msg.Reason,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode message: %w", err)
		}
		return data, nil
	default:
		return []byte(msg.Payload()), nil
	}
}
