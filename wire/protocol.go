package wire

import "encoding/json"

// FrameType is the kind of a Frame
type FrameType string

// FrameType values
const (
	// FrameConnect is sent by the server once it has installed its handlers
	// for a new session. Args carry the optional "no timeout" flag.
	FrameConnect FrameType = "connect"

	// FrameEvent carries a named event. A nonzero ID requests an
	// acknowledgement.
	FrameEvent FrameType = "event"

	// FrameAck acknowledges the event with the same ID
	FrameAck FrameType = "ack"
)

// A Frame is a single WebSocket message in either direction
type Frame struct {
	Type FrameType         `json:"type"`
	ID   int64             `json:"id,omitempty"`
	Name string            `json:"name,omitempty"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// Args marshals a list of values into frame arguments
func Args(values ...any) ([]json.RawMessage, error) {
	res := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}

// IsNull returns true if the argument is absent or JSON null
func IsNull(arg json.RawMessage) bool {
	return len(arg) == 0 || string(arg) == "null"
}
