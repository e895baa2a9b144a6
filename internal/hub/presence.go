package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Presence tracks the live chat connections of each user. A user may hold
// several simultaneous connections (tabs); they are online while at least
// one remains.
type Presence struct {
	mu     sync.RWMutex
	users  map[string]map[uuid.UUID]Conn
	logger *slog.Logger
}

func NewPresence(logger *slog.Logger) *Presence {
	return &Presence{
		users:  make(map[string]map[uuid.UUID]Conn),
		logger: logger.With(slog.String("component", "presence_registry")),
	}
}

// Join registers a chat connection under userID and reports whether the
// user just transitioned from zero to one live connections. The caller
// announces USER_ONLINE at most once per such transition.
func (p *Presence) Join(userID string, c Conn) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[userID]
	if !ok {
		conns = make(map[uuid.UUID]Conn)
		p.users[userID] = conns
	}
	conns[c.ID()] = c
	p.logger.Debug("Chat connection registered",
		slog.String("userID", userID),
		slog.Int("connections", len(conns)),
	)
	return len(conns) == 1
}

// Leave removes the connection and reports whether the user just went
// from one live connection to zero. The caller announces USER_OFFLINE at
// most once per such transition.
func (p *Presence) Leave(userID string, connID uuid.UUID) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[userID]
	if !ok {
		return false
	}
	if _, tracked := conns[connID]; !tracked {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(p.users, userID)
	p.logger.Debug("User went offline", slog.String("userID", userID))
	return true
}

// Connections returns a copy of the user's live connections; empty when
// the user is offline.
func (p *Presence) Connections(userID string) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := make([]Conn, 0, len(p.users[userID]))
	for _, c := range p.users[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Online reports whether the user holds at least one live connection.
func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}

// FilterOnline returns the subset of userIDs currently online, preserving
// input order.
func (p *Presence) FilterOnline(userIDs []string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	online := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if len(p.users[id]) > 0 {
			online = append(online, id)
		}
	}
	return online
}

// Stats reports online user and connection counts.
func (p *Presence) Stats() (users, conns int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users = len(p.users)
	for _, c := range p.users {
		conns += len(c)
	}
	return users, conns
}
