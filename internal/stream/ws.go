package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport dials event streams over websocket.
type WSTransport struct {
	dialTimeout   time.Duration
	maxFrameBytes int64
}

// NewWSTransport creates a websocket transport. maxFrameBytes bounds the size
// of a single inbound frame; zero disables the limit.
func NewWSTransport(dialTimeout time.Duration, maxFrameBytes int64) *WSTransport {
	return &WSTransport{
		dialTimeout:   dialTimeout,
		maxFrameBytes: maxFrameBytes,
	}
}

// Dial opens a websocket connection to the given stream URL.
func (t *WSTransport) Dial(ctx context.Context, url string) (Conn, error) {
	if t.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.dialTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	if t.maxFrameBytes > 0 {
		conn.SetReadLimit(t.maxFrameBytes)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame() (Frame, error) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}

	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		// Bare payloads without an envelope are treated as message frames.
		return Frame{Event: FrameMessage, Data: message}, nil
	}
	if frame.Event == "" {
		frame.Event = FrameMessage
		frame.Data = message
	}
	return frame, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
