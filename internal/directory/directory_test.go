package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlab/realtime/pkg/envelope"
)

func TestEvaluate(t *testing.T) {
	store := NewMemoryStore()
	store.AddWhiteboard(Whiteboard{
		ID:      "private",
		OwnerID: "u1",
		Participants: map[string]envelope.Role{
			"u2": envelope.RoleEditor,
		},
	})
	store.AddWhiteboard(Whiteboard{
		ID:       "public",
		OwnerID:  "u1",
		IsPublic: true,
	})

	tests := []struct {
		name     string
		userID   string
		roomID   string
		wantOK   bool
		wantRole envelope.Role
	}{
		{name: "owner", userID: "u1", roomID: "private", wantOK: true, wantRole: envelope.RoleOwner},
		{name: "participant keeps stored role", userID: "u2", roomID: "private", wantOK: true, wantRole: envelope.RoleEditor},
		{name: "stranger denied on private board", userID: "u3", roomID: "private"},
		{name: "stranger is viewer on public board", userID: "u3", roomID: "public", wantOK: true, wantRole: envelope.RoleViewer},
		{name: "owner outranks public viewer", userID: "u1", roomID: "public", wantOK: true, wantRole: envelope.RoleOwner},
		{name: "unknown board fails closed", userID: "u1", roomID: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access := Evaluate(context.Background(), store, tt.userID, tt.roomID)
			assert.Equal(t, tt.wantOK, access.Allowed)
			assert.Equal(t, tt.wantRole, access.Role)
		})
	}
}

func TestMemoryStore_PeersOf(t *testing.T) {
	store := NewMemoryStore()
	store.AddConversation("c1", "u1", "u2")
	store.AddConversation("c2", "u3", "u1")
	// A group-chat anchor record pairs a user with themselves; it must
	// not make the user their own peer.
	store.AddConversation("c3", "u1", "u1")
	store.AddConversation("c4", "u2", "u3")

	peers, err := store.PeersOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2", "u3"}, peers)

	peers, err = store.PeersOf(context.Background(), "u4")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestMemoryStore_OnlineStatus(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetOnlineStatus(context.Background(), "u1", true, at))
	seen, ok := store.LastSeen("u1")
	require.True(t, ok)
	assert.Equal(t, at, seen)

	_, ok = store.LastSeen("u2")
	assert.False(t, ok)
}
