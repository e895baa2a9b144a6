// Package session implements the per-connection state machine: it
// authenticates JOIN envelopes, dispatches typed messages, and drives the
// registries and the broadcast router. One session owns exactly one
// connection. Messages arrive on the read goroutine, but the close path
// runs on whichever goroutine tears the transport down (write pump,
// liveness monitor, shutdown), so the state is mutex-guarded and a close
// that wins the race leaves a mid-flight JOIN nothing to register.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/classlab/realtime/internal/directory"
	"github.com/classlab/realtime/internal/hub"
	"github.com/classlab/realtime/pkg/envelope"
)

type state int

const (
	stateUnauthenticated state = iota
	stateRoomJoined
	stateChatJoined
	stateClosed
)

// Deps bundles the long-lived services injected into every session.
type Deps struct {
	Auth     *directory.Authenticator
	Store    directory.Store
	Rooms    *hub.Rooms
	Presence *hub.Presence
	Router   *hub.Router
}

// Session interprets the inbound envelope stream of a single connection.
type Session struct {
	logger *slog.Logger
	conn   hub.Conn
	deps   Deps

	mu       sync.Mutex
	state    state
	identity envelope.Identity
	roomID   string
	role     envelope.Role
}

func New(logger *slog.Logger, conn hub.Conn, deps Deps) *Session {
	return &Session{
		logger: logger.With(slog.String("component", "session"), slog.String("connID", conn.ID().String())),
		conn:   conn,
		deps:   deps,
	}
}

// HandleMessage decodes one inbound envelope and dispatches it according
// to the session state. Unknown or out-of-state types produce an ERROR
// envelope and leave the state untouched. The lock spans the whole
// dispatch: a JOIN either fully registers before a concurrent close
// deregisters it, or observes the closed state and registers nothing.
func (s *Session) HandleMessage(ctx context.Context, msg []byte) {
	var env envelope.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Warn("Failed to unmarshal client message", slog.Any("error", err))
		s.sendError("Invalid message format")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateUnauthenticated:
		switch env.Type {
		case envelope.TypeJoinWhiteboard:
			s.handleJoinWhiteboard(ctx, env.Payload)
		case envelope.TypeJoinChat:
			s.handleJoinChat(ctx, env.Payload)
		default:
			s.sendError("not authenticated")
		}

	case stateRoomJoined:
		switch env.Type {
		case envelope.TypeJoinWhiteboard, envelope.TypeJoinChat:
			s.sendError("already joined")
		case envelope.TypeCursorMove:
			s.handleCursorMove(env.Payload)
		case envelope.TypeElementAdd, envelope.TypeElementUpdate,
			envelope.TypeElementDelete, envelope.TypeElementBulkUpdate,
			envelope.TypeWhiteboardClear:
			s.handleElementRelay(env.Type, env.Payload)
		case envelope.TypeSyncRequest:
			s.handleSyncRequest()
		default:
			s.sendError("unsupported message type")
		}

	case stateChatJoined:
		switch env.Type {
		case envelope.TypeJoinWhiteboard, envelope.TypeJoinChat:
			s.sendError("already joined")
		case envelope.TypeChatMessage:
			s.handleChatMessage(env.Payload)
		case envelope.TypeReadReceipt:
			s.handleReadReceipt(env.Payload)
		case envelope.TypeTypingStart, envelope.TypeTypingStop:
			s.handleTyping(env.Type, env.Payload)
		default:
			s.sendError("unsupported message type")
		}

	case stateClosed:
		// Late messages from a draining read pump; nothing to do.
	}
}

// HandleClose deregisters the connection from whichever registry holds it
// and announces the departure. The state is terminal, so a repeated call
// is a no-op, and taking the lock serializes the close against any
// in-flight dispatch on the read goroutine.
func (s *Session) HandleClose(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRoomJoined:
		s.leaveRoom()
	case stateChatJoined:
		s.leaveChat(ctx)
	}
	s.state = stateClosed
}

func (s *Session) sendError(message string) {
	if err := s.conn.Send(envelope.Error(message)); err != nil {
		s.logger.Debug("Could not deliver error envelope", slog.Any("error", err))
	}
}

func (s *Session) send(t envelope.Type, payload any) {
	msg, err := envelope.Marshal(t, payload)
	if err != nil {
		s.logger.Error("Failed to marshal envelope", slog.String("type", string(t)), slog.Any("error", err))
		return
	}
	if err := s.conn.Send(msg); err != nil {
		s.logger.Debug("Could not deliver envelope", slog.String("type", string(t)), slog.Any("error", err))
	}
}
