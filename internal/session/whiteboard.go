package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/classlab/realtime/internal/directory"
	"github.com/classlab/realtime/internal/hub"
	"github.com/classlab/realtime/pkg/envelope"
)

func (s *Session) handleJoinWhiteboard(ctx context.Context, payload json.RawMessage) {
	var p envelope.JoinWhiteboardPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" || p.Credential == "" {
		s.sendError("Malformed join request")
		return
	}

	identity, err := s.deps.Auth.Authenticate(ctx, p.Credential)
	if err != nil {
		s.sendError("Authentication failed")
		return
	}

	access := directory.Evaluate(ctx, s.deps.Store, identity.ID, p.RoomID)
	if !access.Allowed {
		s.sendError("Access denied")
		return
	}

	s.deps.Rooms.Join(p.RoomID, hub.Member{
		Conn:     s.conn,
		UserID:   identity.ID,
		Identity: identity,
		Role:     access.Role,
	})

	s.state = stateRoomJoined
	s.identity = identity
	s.roomID = p.RoomID
	s.role = access.Role

	joined, err := envelope.Marshal(envelope.TypeUserJoined, envelope.UserJoinedPayload{
		Identity:  identity,
		Role:      access.Role,
		Timestamp: time.Now().UTC(),
	})
	if err == nil {
		s.deps.Router.Broadcast(s.deps.Rooms.Conns(p.RoomID), joined, s.conn.ID())
	}

	participants, cursors := s.deps.Rooms.Snapshot(p.RoomID)
	s.send(envelope.TypeSyncResponse, envelope.SyncResponsePayload{
		Participants: participants,
		Cursors:      cursors,
		Role:         access.Role,
	})

	s.logger.Info("Whiteboard session joined",
		slog.String("roomID", p.RoomID),
		slog.String("userID", identity.ID),
		slog.String("role", string(access.Role)),
	)
}

func (s *Session) handleCursorMove(payload json.RawMessage) {
	var p envelope.CursorMovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendError("Malformed cursor update")
		return
	}

	s.deps.Rooms.SetCursor(s.roomID, s.identity.ID, p.X, p.Y, s.identity)

	echo, err := envelope.Marshal(envelope.TypeCursorMove, envelope.CursorBroadcastPayload{
		X:        p.X,
		Y:        p.Y,
		UserID:   s.identity.ID,
		Identity: s.identity,
	})
	if err != nil {
		return
	}
	s.deps.Router.Broadcast(s.deps.Rooms.Conns(s.roomID), echo, s.conn.ID())
}

// actorField maps an element operation to the stamp it carries.
func actorField(t envelope.Type) string {
	switch t {
	case envelope.TypeElementAdd:
		return "createdBy"
	case envelope.TypeElementUpdate, envelope.TypeElementBulkUpdate:
		return "updatedBy"
	case envelope.TypeElementDelete:
		return "deletedBy"
	default:
		return "clearedBy"
	}
}

// handleElementRelay stamps the acting identity into the raw payload and
// rebroadcasts it to the whole room, the sender included, so every client
// applies the same reconciliation path. Element content is never
// inspected; conflict resolution is the clients' problem.
func (s *Session) handleElementRelay(t envelope.Type, payload json.RawMessage) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !gjson.ValidBytes(payload) {
		s.sendError("Malformed element payload")
		return
	}

	stamped, err := sjson.SetBytes(payload, actorField(t), s.identity)
	if err != nil {
		s.sendError("Malformed element payload")
		return
	}
	if t == envelope.TypeWhiteboardClear {
		stamped, err = sjson.SetBytes(stamped, "timestamp", time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return
		}
	}

	msg, err := envelope.MarshalRaw(t, stamped)
	if err != nil {
		return
	}
	s.deps.Router.Broadcast(s.deps.Rooms.Conns(s.roomID), msg, uuid.Nil)
}

func (s *Session) handleSyncRequest() {
	participants, cursors := s.deps.Rooms.Snapshot(s.roomID)
	s.send(envelope.TypeSyncResponse, envelope.SyncResponsePayload{
		Participants: participants,
		Cursors:      cursors,
		Role:         s.role,
	})
}

func (s *Session) leaveRoom() {
	s.deps.Rooms.Leave(s.roomID, s.conn.ID())

	remaining := s.deps.Rooms.Conns(s.roomID)
	if len(remaining) == 0 {
		return
	}
	left, err := envelope.Marshal(envelope.TypeUserLeft, envelope.UserLeftPayload{
		Identity:  s.identity,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	s.deps.Router.Broadcast(remaining, left, uuid.Nil)
}
