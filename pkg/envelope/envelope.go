// Package envelope defines the wire unit exchanged over a collaboration
// connection: a typed JSON envelope with a type-specific payload.
package envelope

import "encoding/json"

type Type string

// The closed set of envelope types. Adding a type means adding a case to
// every dispatch switch; the compiler and tests keep the set honest.
const (
	TypeJoinWhiteboard Type = "JOIN_WHITEBOARD"
	TypeJoinChat       Type = "JOIN_CHAT"

	TypeSyncRequest  Type = "SYNC_REQUEST"
	TypeSyncResponse Type = "SYNC_RESPONSE"

	TypeCursorMove        Type = "CURSOR_MOVE"
	TypeElementAdd        Type = "ELEMENT_ADD"
	TypeElementUpdate     Type = "ELEMENT_UPDATE"
	TypeElementDelete     Type = "ELEMENT_DELETE"
	TypeElementBulkUpdate Type = "ELEMENT_BULK_UPDATE"
	TypeWhiteboardClear   Type = "WHITEBOARD_CLEAR"

	TypeUserJoined Type = "USER_JOINED"
	TypeUserLeft   Type = "USER_LEFT"

	TypeChatMessage Type = "CHAT_MESSAGE"
	TypeReadReceipt Type = "READ_RECEIPT"
	TypeTypingStart Type = "TYPING_START"
	TypeTypingStop  Type = "TYPING_STOP"

	TypeUserOnline      Type = "USER_ONLINE"
	TypeUserOffline     Type = "USER_OFFLINE"
	TypeUserOnlineBatch Type = "USER_ONLINE_BATCH"

	TypeError Type = "ERROR"
)

// Envelope is the wire unit: {type, payload}.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal builds a serialized envelope from a typed payload.
func Marshal(t Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// MarshalRaw builds a serialized envelope around an already-encoded payload.
func MarshalRaw(t Type, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Type: t, Payload: payload})
}

// Error builds a serialized ERROR envelope. The message is the only field
// a client may rely on.
func Error(message string) []byte {
	// Marshaling a flat string field cannot fail.
	out, _ := Marshal(TypeError, ErrorPayload{Message: message})
	return out
}
