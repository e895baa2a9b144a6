// Package directory is the relay's view of the external application store.
// It resolves credentials to identities, whiteboard access rights, and the
// peer set of a user; everything else about users, whiteboards and
// conversations lives outside this process.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/classlab/realtime/pkg/envelope"
)

var (
	// ErrNotFound reports an unknown user, whiteboard or conversation.
	ErrNotFound = errors.New("directory: not found")
	// ErrAuthenticationFailed covers bad signatures, expired tokens and
	// unresolvable subjects alike; callers must not distinguish further.
	ErrAuthenticationFailed = errors.New("directory: authentication failed")
)

// Whiteboard is the access-relevant slice of a stored whiteboard record.
type Whiteboard struct {
	ID           string
	OwnerID      string
	IsPublic     bool
	Participants map[string]envelope.Role // userID -> assigned role
}

// Store is the request/response surface the external application store
// must provide. Implementations must be safe for concurrent use.
type Store interface {
	// FindUser resolves a user id to its identity record.
	FindUser(ctx context.Context, userID string) (envelope.Identity, error)
	// FindWhiteboard resolves a whiteboard id to its access record.
	FindWhiteboard(ctx context.Context, roomID string) (Whiteboard, error)
	// PeersOf returns the ids of every user sharing a two-party
	// conversation with userID.
	PeersOf(ctx context.Context, userID string) ([]string, error)
	// SetOnlineStatus persists a participant's online/offline timestamp.
	SetOnlineStatus(ctx context.Context, userID string, online bool, at time.Time) error
}

// Access is the outcome of an access evaluation.
type Access struct {
	Allowed bool
	Role    envelope.Role
}

// Evaluate resolves whether userID may enter roomID and with which role.
// Precedence: creator => owner; else stored participant role; else
// (public board) viewer. Any lookup failure denies access.
func Evaluate(ctx context.Context, store Store, userID, roomID string) Access {
	wb, err := store.FindWhiteboard(ctx, roomID)
	if err != nil {
		return Access{}
	}
	if wb.OwnerID == userID {
		return Access{Allowed: true, Role: envelope.RoleOwner}
	}
	if role, ok := wb.Participants[userID]; ok {
		return Access{Allowed: true, Role: role}
	}
	if wb.IsPublic {
		return Access{Allowed: true, Role: envelope.RoleViewer}
	}
	return Access{}
}
