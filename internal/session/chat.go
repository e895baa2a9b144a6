package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/classlab/realtime/pkg/envelope"
)

func (s *Session) handleJoinChat(ctx context.Context, payload json.RawMessage) {
	var p envelope.JoinChatPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Credential == "" {
		s.sendError("Malformed join request")
		return
	}

	identity, err := s.deps.Auth.Authenticate(ctx, p.Credential)
	if err != nil {
		s.sendError("Authentication failed")
		return
	}

	first := s.deps.Presence.Join(identity.ID, s.conn)
	s.state = stateChatJoined
	s.identity = identity

	peers := s.peers(ctx, identity.ID)
	now := time.Now().UTC()

	if first {
		if err := s.deps.Store.SetOnlineStatus(ctx, identity.ID, true, now); err != nil {
			s.logger.Warn("Failed to persist online status", slog.Any("error", err))
		}
		online, err := envelope.Marshal(envelope.TypeUserOnline, envelope.UserOnlinePayload{
			UserID:    identity.ID,
			Timestamp: now,
		})
		if err == nil {
			for _, peerID := range s.deps.Presence.FilterOnline(peers) {
				s.deps.Router.Broadcast(s.deps.Presence.Connections(peerID), online, uuid.Nil)
			}
		}
	}

	// Every new tab gets its own snapshot of which peers are online.
	s.send(envelope.TypeUserOnlineBatch, envelope.UserOnlineBatchPayload{
		UserIDs: s.deps.Presence.FilterOnline(peers),
	})

	s.logger.Info("Chat session joined", slog.String("userID", identity.ID), slog.Bool("first", first))
}

// peers resolves the user's peer set, treating a store failure as an
// empty set: presence fan-out degrades, the session survives.
func (s *Session) peers(ctx context.Context, userID string) []string {
	peers, err := s.deps.Store.PeersOf(ctx, userID)
	if err != nil {
		s.logger.Warn("Peer resolution failed", slog.String("userID", userID), slog.Any("error", err))
		return nil
	}
	return peers
}

// relayTo stamps fields into the raw payload and delivers it to every
// live connection of the named receiver. A receiver with no live
// connections is a silent drop; persistence happened upstream.
func (s *Session) relayTo(receiverID string, t envelope.Type, payload json.RawMessage, stamps map[string]any) {
	targets := s.deps.Presence.Connections(receiverID)
	if len(targets) == 0 {
		s.logger.Debug("Receiver offline, dropping envelope",
			slog.String("type", string(t)),
			slog.String("receiverID", receiverID),
		)
		return
	}

	stamped := payload
	var err error
	for field, value := range stamps {
		if stamped, err = sjson.SetBytes(stamped, field, value); err != nil {
			return
		}
	}
	msg, err := envelope.MarshalRaw(t, stamped)
	if err != nil {
		return
	}
	s.deps.Router.Broadcast(targets, msg, uuid.Nil)
}

func (s *Session) handleChatMessage(payload json.RawMessage) {
	if !gjson.ValidBytes(payload) {
		s.sendError("Malformed chat message")
		return
	}
	receiverID := gjson.GetBytes(payload, "receiverId").String()
	if receiverID == "" {
		s.sendError("Malformed chat message")
		return
	}
	s.relayTo(receiverID, envelope.TypeChatMessage, payload, map[string]any{
		"senderId":  s.identity.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Session) handleReadReceipt(payload json.RawMessage) {
	if !gjson.ValidBytes(payload) {
		s.sendError("Malformed read receipt")
		return
	}
	// The receipt travels back to the original message sender.
	senderID := gjson.GetBytes(payload, "senderId").String()
	if senderID == "" {
		s.sendError("Malformed read receipt")
		return
	}
	s.relayTo(senderID, envelope.TypeReadReceipt, payload, map[string]any{
		"readerId": s.identity.ID,
	})
}

func (s *Session) handleTyping(t envelope.Type, payload json.RawMessage) {
	if !gjson.ValidBytes(payload) {
		s.sendError("Malformed typing notification")
		return
	}
	receiverID := gjson.GetBytes(payload, "receiverId").String()
	if receiverID == "" {
		s.sendError("Malformed typing notification")
		return
	}
	s.relayTo(receiverID, t, payload, map[string]any{
		"userId": s.identity.ID,
	})
}

func (s *Session) leaveChat(ctx context.Context) {
	last := s.deps.Presence.Leave(s.identity.ID, s.conn.ID())
	if !last {
		return
	}

	now := time.Now().UTC()
	if err := s.deps.Store.SetOnlineStatus(ctx, s.identity.ID, false, now); err != nil {
		s.logger.Warn("Failed to persist offline status", slog.Any("error", err))
	}

	offline, err := envelope.Marshal(envelope.TypeUserOffline, envelope.UserOfflinePayload{
		UserID:    s.identity.ID,
		Timestamp: now,
	})
	if err != nil {
		return
	}
	for _, peerID := range s.deps.Presence.FilterOnline(s.peers(ctx, s.identity.ID)) {
		s.deps.Router.Broadcast(s.deps.Presence.Connections(peerID), offline, uuid.Nil)
	}
}
