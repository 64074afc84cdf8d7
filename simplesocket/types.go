package simplesocket

import "encoding/json"

const (
	inboundJoin         = "join"
	inboundLeave        = "leave"
	inboundUpdateState  = "update_state"
	inboundReplaceState = "replace_state"
	inboundEvent        = "event"

	outboundStateUpdate  = "state_update"
	outboundStatePartial = "state_partial_update"
	outboundError        = "error"
	outboundUserJoined   = "user_joined"
	outboundUserLeft     = "user_left"
	outboundEvent        = "event"
)

// Inbound represents the envelope from client to server.
type Inbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Outbound is the envelope server -> client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

// RoomPayload subscribes to or leaves a room.
type RoomPayload struct {
	Room string `json:"room"`
}

// UserEvent emitted when a user joins or leaves the room.
type UserEvent struct {
	User string `json:"user"`
	Room string `json:"room,omitempty"`
}

// WireError describes an error pushed by the server.
type WireError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
