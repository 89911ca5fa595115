// Package channel implements the persistent bidirectional connection between
// the viewer and the conversation daemon: emissions with acknowledgements,
// push subscriptions, and a fixed reconnect policy.
package channel

import "encoding/json"

// Frame is the JSON envelope exchanged over the websocket.
//
// A client emission sets Event and, when it expects an acknowledgement, a
// correlation ID. The daemon answers with Ack set to that ID. Frames with an
// Event and no Ack are pushes.
type Frame struct {
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IsAck reports whether the frame acknowledges an earlier emission.
func (f Frame) IsAck() bool {
	return f.Ack != ""
}
