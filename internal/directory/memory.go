package directory

import (
	"context"
	"sync"
	"time"

	"github.com/classlab/realtime/pkg/envelope"
)

// MemoryStore is an in-process Store used for tests and standalone runs.
// A production deployment replaces it with a client for the real
// application store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]envelope.Identity
	whiteboards   map[string]Whiteboard
	conversations map[string][2]string // conversationID -> participant pair
	lastSeen      map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]envelope.Identity),
		whiteboards:   make(map[string]Whiteboard),
		conversations: make(map[string][2]string),
		lastSeen:      make(map[string]time.Time),
	}
}

func (s *MemoryStore) AddUser(identity envelope.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[identity.ID] = identity
}

func (s *MemoryStore) AddWhiteboard(wb Whiteboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wb.Participants == nil {
		wb.Participants = make(map[string]envelope.Role)
	}
	s.whiteboards[wb.ID] = wb
}

// AddConversation registers a two-party conversation between a and b.
func (s *MemoryStore) AddConversation(id, a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = [2]string{a, b}
}

func (s *MemoryStore) FindUser(_ context.Context, userID string) (envelope.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.users[userID]
	if !ok {
		return envelope.Identity{}, ErrNotFound
	}
	return identity, nil
}

func (s *MemoryStore) FindWhiteboard(_ context.Context, roomID string) (Whiteboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wb, ok := s.whiteboards[roomID]
	if !ok {
		return Whiteboard{}, ErrNotFound
	}
	return wb, nil
}

func (s *MemoryStore) PeersOf(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	peers := make([]string, 0)
	for _, pair := range s.conversations {
		var other string
		switch userID {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}
		if _, dup := seen[other]; dup || other == userID {
			continue
		}
		seen[other] = struct{}{}
		peers = append(peers, other)
	}
	return peers, nil
}

func (s *MemoryStore) SetOnlineStatus(_ context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = at
	return nil
}

// LastSeen reports the most recent online/offline timestamp recorded for
// a user.
func (s *MemoryStore) LastSeen(userID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastSeen[userID]
	return t, ok
}
