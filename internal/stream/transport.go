package stream

import (
	"context"
	"encoding/json"
)

// Frame is one envelope message from the per-session event stream. Event is
// the envelope discriminator (open, message, end, done, error); Data carries
// the provider-specific payload for message frames.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope event names.
const (
	FrameOpen    = "open"
	FrameMessage = "message"
	FrameEnd     = "end"
	FrameDone    = "done"
	FrameError   = "error"
)

// Conn is one live stream connection. ReadFrame blocks until the next frame
// arrives or the connection fails; Close releases the underlying transport
// and unblocks any pending read.
type Conn interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Transport dials per-session event streams. The production implementation
// speaks websocket; tests substitute an in-memory transport.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
