// Package protocol defines the websocket frames exchanged between board
// clients and the daemon.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// Event names carried in Frame.Event.
const (
	EventJoinCanvas           = "joinCanvas"
	EventDrawingUpdate        = "drawingUpdate"
	EventLoadCanvas           = "loadCanvas"
	EventUnauthorized         = "unauthorized"
	EventReceiveDrawingUpdate = "receiveDrawingUpdate"
)

// UnauthorizedMessage is the only reason a client is ever told.
const UnauthorizedMessage = "Unauthorized"

// Frame is one websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinCanvas is the joinCanvas payload.
type JoinCanvas struct {
	CanvasID string `json:"canvasId"`
}

// DrawingUpdate is the drawingUpdate payload.
type DrawingUpdate struct {
	CanvasID string           `json:"canvasId"`
	Elements []schema.Element `json:"elements"`
}

// Unauthorized is the unauthorized payload.
type Unauthorized struct {
	Message string `json:"message"`
}

// Encode marshals data under event. Elements decoded from a client are
// written back byte for byte; HTML characters are not escaped.
func Encode(event string, data any) ([]byte, error) {
	raw, err := marshal(data)
	if err != nil {
		return nil, err
	}
	return marshal(Frame{Event: event, Data: raw})
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
