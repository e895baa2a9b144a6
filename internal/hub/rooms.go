package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classlab/realtime/pkg/envelope"
)

// Member is one connection's seat in a room.
type Member struct {
	Conn     Conn
	UserID   string
	Identity envelope.Identity
	Role     envelope.Role
}

type room struct {
	members []Member                    // join order preserved
	cursors map[string]envelope.Cursor // userID -> last position
}

// Rooms is the registry of active whiteboard rooms. A room exists only
// while it has at least one member; it is created lazily on first join
// and deleted, cursors included, when the last member leaves.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *slog.Logger
}

func NewRooms(logger *slog.Logger) *Rooms {
	return &Rooms{
		rooms:  make(map[string]*room),
		logger: logger.With(slog.String("component", "room_registry")),
	}
}

func (r *Rooms) Join(roomID string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{cursors: make(map[string]envelope.Cursor)}
		r.rooms[roomID] = rm
		r.logger.Debug("Room created", slog.String("roomID", roomID))
	}
	rm.members = append(rm.members, m)
	r.logger.Debug("User joined room",
		slog.String("roomID", roomID),
		slog.String("userID", m.UserID),
		slog.Int("members", len(rm.members)),
	)
}

// Leave removes the connection's seat. The user's cursor goes with it
// unless another connection of the same user remains in the room; the
// room itself goes when its last member leaves.
func (r *Rooms) Leave(roomID string, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}

	var userID string
	for i, m := range rm.members {
		if m.Conn.ID() == connID {
			userID = m.UserID
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}
	if userID == "" {
		return
	}

	stillPresent := false
	for _, m := range rm.members {
		if m.UserID == userID {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		r.removeCursorLocked(roomID, userID)
	}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("Removed empty room", slog.String("roomID", roomID))
		return
	}
	r.logger.Debug("User left room", slog.String("roomID", roomID), slog.String("userID", userID))
}

// Snapshot returns the full room state served on join and SYNC_REQUEST.
func (r *Rooms) Snapshot(roomID string) ([]envelope.Participant, []envelope.Cursor) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := make([]envelope.Participant, 0)
	cursors := make([]envelope.Cursor, 0)
	rm, ok := r.rooms[roomID]
	if !ok {
		return participants, cursors
	}
	for _, m := range rm.members {
		participants = append(participants, envelope.Participant{Identity: m.Identity, Role: m.Role})
	}
	for _, c := range rm.cursors {
		cursors = append(cursors, c)
	}
	return participants, cursors
}

// SetCursor records a last-write-wins cursor position. No history kept.
func (r *Rooms) SetCursor(roomID, userID string, x, y float64, identity envelope.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	rm.cursors[userID] = envelope.Cursor{
		UserID:    userID,
		X:         x,
		Y:         y,
		Identity:  identity,
		UpdatedAt: time.Now().UTC(),
	}
}

func (r *Rooms) RemoveCursor(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeCursorLocked(roomID, userID)
}

func (r *Rooms) removeCursorLocked(roomID, userID string) {
	if rm, ok := r.rooms[roomID]; ok {
		delete(rm.cursors, userID)
	}
}

// Conns returns a copy of the room's live connections for broadcasting.
func (r *Rooms) Conns(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(rm.members))
	for _, m := range rm.members {
		conns = append(conns, m.Conn)
	}
	return conns
}

// Stats reports active room and seat counts.
func (r *Rooms) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		members += len(rm.members)
	}
	return rooms, members
}
