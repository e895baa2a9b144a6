package envelope

import "time"

// Role is a user's effective capability inside a room, fixed at join time.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Identity is the user record resolved at authentication time. It is
// immutable for the lifetime of the connection that resolved it.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// Participant is a room member as reported in snapshots and join events.
type Participant struct {
	Identity Identity `json:"identity"`
	Role     Role     `json:"role"`
}

// Cursor is the ephemeral last-write-wins pointer position of one user
// in one room.
type Cursor struct {
	UserID    string    `json:"userId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Identity  Identity  `json:"identity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type JoinWhiteboardPayload struct {
	RoomID     string `json:"roomId"`
	Credential string `json:"credential"`
}

type JoinChatPayload struct {
	Credential string `json:"credential"`
}

type SyncResponsePayload struct {
	Participants []Participant `json:"participants"`
	Cursors      []Cursor      `json:"cursors"`
	Role         Role          `json:"role,omitempty"`
}

type CursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorBroadcastPayload is the server-side echo of a cursor move.
type CursorBroadcastPayload struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	UserID   string   `json:"userId"`
	Identity Identity `json:"identity"`
}

type UserJoinedPayload struct {
	Identity  Identity  `json:"identity"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type UserLeftPayload struct {
	Identity  Identity  `json:"identity"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessagePayload struct {
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type ReadReceiptPayload struct {
	SenderID       string `json:"senderId"`
	ConversationID string `json:"conversationId"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

type UserOnlinePayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type UserOfflinePayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type UserOnlineBatchPayload struct {
	UserIDs []string `json:"userIds"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
