package session_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlab/realtime/internal/directory"
	"github.com/classlab/realtime/internal/hub"
	"github.com/classlab/realtime/internal/metrics"
	"github.com/classlab/realtime/internal/session"
	"github.com/classlab/realtime/pkg/envelope"
)

const testSecret = "test-signing-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type mockConn struct {
	id       uuid.UUID
	mu       sync.Mutex
	received [][]byte
}

func newMockConn() *mockConn { return &mockConn{id: uuid.New()} }

func (m *mockConn) ID() uuid.UUID { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, data)
	return nil
}

// envelopes decodes everything the connection received.
func (m *mockConn) envelopes(t *testing.T) []envelope.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]envelope.Envelope, 0, len(m.received))
	for _, raw := range m.received {
		var env envelope.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

// ofType returns the payloads of every received envelope of the given type.
func (m *mockConn) ofType(t *testing.T, typ envelope.Type) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, env := range m.envelopes(t) {
		if env.Type == typ {
			out = append(out, env.Payload)
		}
	}
	return out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type testEnv struct {
	store    *directory.MemoryStore
	rooms    *hub.Rooms
	presence *hub.Presence
	deps     session.Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := newTestLogger()

	store := directory.NewMemoryStore()
	store.AddUser(envelope.Identity{ID: "u1", DisplayName: "Ada", Email: "ada@example.com", Role: "student"})
	store.AddUser(envelope.Identity{ID: "u2", DisplayName: "Grace", Email: "grace@example.com", Role: "student"})
	store.AddUser(envelope.Identity{ID: "u3", DisplayName: "Edsger", Email: "edsger@example.com", Role: "student"})
	store.AddWhiteboard(directory.Whiteboard{
		ID:      "w1",
		OwnerID: "u1",
		Participants: map[string]envelope.Role{
			"u2": envelope.RoleEditor,
		},
	})
	store.AddWhiteboard(directory.Whiteboard{ID: "wpub", OwnerID: "u1", IsPublic: true})
	store.AddConversation("c1", "u1", "u2")

	rooms := hub.NewRooms(logger)
	presence := hub.NewPresence(logger)
	return &testEnv{
		store:    store,
		rooms:    rooms,
		presence: presence,
		deps: session.Deps{
			Auth:     directory.NewAuthenticator(logger, testSecret, store),
			Store:    store,
			Rooms:    rooms,
			Presence: presence,
			Router:   hub.NewRouter(logger, metrics.New()),
		},
	}
}

func (e *testEnv) newSession(conn hub.Conn) *session.Session {
	return session.New(newTestLogger(), conn, e.deps)
}

func token(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func inbound(t *testing.T, typ envelope.Type, payload any) []byte {
	t.Helper()
	raw, err := envelope.Marshal(typ, payload)
	require.NoError(t, err)
	return raw
}

func joinWhiteboard(t *testing.T, s *session.Session, roomID, userID string) {
	t.Helper()
	s.HandleMessage(context.Background(), inbound(t, envelope.TypeJoinWhiteboard, envelope.JoinWhiteboardPayload{
		RoomID:     roomID,
		Credential: token(t, userID),
	}))
}

func joinChat(t *testing.T, s *session.Session, userID string) {
	t.Helper()
	s.HandleMessage(context.Background(), inbound(t, envelope.TypeJoinChat, envelope.JoinChatPayload{
		Credential: token(t, userID),
	}))
}

// --- Whiteboard flow ---

func TestJoinWhiteboard_SnapshotAndJoinEvent(t *testing.T) {
	env := newTestEnv(t)
	connA, connB := newMockConn(), newMockConn()
	sessA, sessB := env.newSession(connA), env.newSession(connB)

	joinWhiteboard(t, sessA, "w1", "u1")
	syncA := connA.ofType(t, envelope.TypeSyncResponse)
	require.Len(t, syncA, 1)
	snapA := decode[envelope.SyncResponsePayload](t, syncA[0])
	require.Len(t, snapA.Participants, 1)
	assert.Equal(t, envelope.RoleOwner, snapA.Role)

	joinWhiteboard(t, sessB, "w1", "u2")
	syncB := connB.ofType(t, envelope.TypeSyncResponse)
	require.Len(t, syncB, 1)
	snapB := decode[envelope.SyncResponsePayload](t, syncB[0])
	require.Len(t, snapB.Participants, 2)
	assert.Equal(t, "u1", snapB.Participants[0].Identity.ID)
	assert.Equal(t, "u2", snapB.Participants[1].Identity.ID)
	assert.Equal(t, envelope.RoleEditor, snapB.Role)

	joined := connA.ofType(t, envelope.TypeUserJoined)
	require.Len(t, joined, 1, "A must see exactly one USER_JOINED for B")
	assert.Equal(t, "u2", decode[envelope.UserJoinedPayload](t, joined[0]).Identity.ID)

	assert.Empty(t, connB.ofType(t, envelope.TypeUserJoined), "B must not see its own join event")
}

func TestJoinWhiteboard_InvalidCredential(t *testing.T) {
	env := newTestEnv(t)
	conn := newMockConn()
	sess := env.newSession(conn)

	sess.HandleMessage(context.Background(), inbound(t, envelope.TypeJoinWhiteboard, envelope.JoinWhiteboardPayload{
		RoomID:     "w1",
		Credential: "garbage",
	}))

	errs := conn.ofType(t, envelope.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Authentication failed", decode[envelope.ErrorPayload](t, errs[0]).Message)

	rooms, members := env.rooms.Stats()
	assert.Equal(t, 0, rooms, "room w1 must gain no participant")
	assert.Equal(t, 0, members)
}

func TestJoinWhiteboard_AccessControl(t *testing.T) {
	env := newTestEnv(t)

	denied := newMockConn()
	joinWhiteboard(t, env.newSession(denied), "w1", "u3")
	errs := denied.ofType(t, envelope.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Access denied", decode[envelope.ErrorPayload](t, errs[0]).Message)

	viewer := newMockConn()
	joinWhiteboard(t, env.newSession(viewer), "wpub", "u3")
	syncs := viewer.ofType(t, envelope.TypeSyncResponse)
	require.Len(t, syncs, 1)
	assert.Equal(t, envelope.RoleViewer, decode[envelope.SyncResponsePayload](t, syncs[0]).Role)
}

func TestCursorMove_LastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	connA, connB := newMockConn(), newMockConn()
	sessA, sessB := env.newSession(connA), env.newSession(connB)
	joinWhiteboard(t, sessA, "w1", "u1")
	joinWhiteboard(t, sessB, "w1", "u2")

	sessA.HandleMessage(context.Background(), inbound(t, envelope.TypeCursorMove, envelope.CursorMovePayload{X: 1, Y: 2}))
	sessA.HandleMessage(context.Background(), inbound(t, envelope.TypeCursorMove, envelope.CursorMovePayload{X: 3, Y: 4}))

	echoes := connB.ofType(t, envelope.TypeCursorMove)
	require.Len(t, echoes, 2)
	echo := decode[envelope.CursorBroadcastPayload](t, echoes[1])
	assert.Equal(t, "u1", echo.UserID)
	assert.Equal(t, 3.0, echo.X)

	assert.Empty(t, connA.ofType(t, envelope.TypeCursorMove), "sender must not receive its own cursor echo")

	// A later sync returns only the most recent position.
	sessB.HandleMessage(context.Background(), inbound(t, envelope.TypeSyncRequest, nil))
	syncs := connB.ofType(t, envelope.TypeSyncResponse)
	snap := decode[envelope.SyncResponsePayload](t, syncs[len(syncs)-1])
	require.Len(t, snap.Cursors, 1)
	assert.Equal(t, 3.0, snap.Cursors[0].X)
	assert.Equal(t, 4.0, snap.Cursors[0].Y)
}

func TestElementRelay_IncludesSenderAndStampsActor(t *testing.T) {
	env := newTestEnv(t)
	connA, connB := newMockConn(), newMockConn()
	sessA := env.newSession(connA)
	joinWhiteboard(t, sessA, "w1", "u1")
	joinWhiteboard(t, env.newSession(connB), "w1", "u2")

	sessA.HandleMessage(context.Background(), []byte(`{"type":"ELEMENT_ADD","payload":{"element":{"id":"e1","kind":"rect"}}}`))

	for _, conn := range []*mockConn{connA, connB} {
		adds := conn.ofType(t, envelope.TypeElementAdd)
		require.Len(t, adds, 1, "element ops go to the whole room, sender included")
		var payload struct {
			Element   map[string]any    `json:"element"`
			CreatedBy envelope.Identity `json:"createdBy"`
		}
		require.NoError(t, json.Unmarshal(adds[0], &payload))
		assert.Equal(t, "e1", payload.Element["id"])
		assert.Equal(t, "u1", payload.CreatedBy.ID)
	}
}

func TestWhiteboardClear_StampsActorAndTimestamp(t *testing.T) {
	env := newTestEnv(t)
	connA := newMockConn()
	sessA := env.newSession(connA)
	joinWhiteboard(t, sessA, "w1", "u1")

	sessA.HandleMessage(context.Background(), []byte(`{"type":"WHITEBOARD_CLEAR"}`))

	clears := connA.ofType(t, envelope.TypeWhiteboardClear)
	require.Len(t, clears, 1)
	var payload struct {
		ClearedBy envelope.Identity `json:"clearedBy"`
		Timestamp string            `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(clears[0], &payload))
	assert.Equal(t, "u1", payload.ClearedBy.ID)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestRoomLeave_AnnouncesAndCleansUp(t *testing.T) {
	env := newTestEnv(t)
	connA, connB := newMockConn(), newMockConn()
	sessA, sessB := env.newSession(connA), env.newSession(connB)
	joinWhiteboard(t, sessA, "w1", "u1")
	joinWhiteboard(t, sessB, "w1", "u2")

	sessA.HandleClose(context.Background())

	left := connB.ofType(t, envelope.TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "u1", decode[envelope.UserLeftPayload](t, left[0]).Identity.ID)

	// Last member out deletes the room entirely.
	sessB.HandleClose(context.Background())
	rooms, _ := env.rooms.Stats()
	assert.Equal(t, 0, rooms)
}

// --- State machine guards ---

func TestStateMachine_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, env *testEnv, s *session.Session)
		message []byte
		wantMsg string
	}{
		{
			name:    "unauthenticated message rejected",
			prepare: func(*testing.T, *testEnv, *session.Session) {},
			message: []byte(`{"type":"CURSOR_MOVE","payload":{"x":1,"y":2}}`),
			wantMsg: "not authenticated",
		},
		{
			name:    "malformed json rejected",
			prepare: func(*testing.T, *testEnv, *session.Session) {},
			message: []byte(`{not json`),
			wantMsg: "Invalid message format",
		},
		{
			name: "second join rejected in room",
			prepare: func(t *testing.T, env *testEnv, s *session.Session) {
				joinWhiteboard(t, s, "w1", "u1")
			},
			message: []byte(`{"type":"JOIN_CHAT","payload":{"credential":"x"}}`),
			wantMsg: "already joined",
		},
		{
			name: "chat message rejected in room session",
			prepare: func(t *testing.T, env *testEnv, s *session.Session) {
				joinWhiteboard(t, s, "w1", "u1")
			},
			message: []byte(`{"type":"CHAT_MESSAGE","payload":{"receiverId":"u2"}}`),
			wantMsg: "unsupported message type",
		},
		{
			name: "second join rejected in chat",
			prepare: func(t *testing.T, env *testEnv, s *session.Session) {
				joinChat(t, s, "u1")
			},
			message: []byte(`{"type":"JOIN_CHAT","payload":{"credential":"x"}}`),
			wantMsg: "already joined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			conn := newMockConn()
			sess := env.newSession(conn)
			tt.prepare(t, env, sess)

			sess.HandleMessage(context.Background(), tt.message)

			errs := conn.ofType(t, envelope.TypeError)
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.wantMsg, decode[envelope.ErrorPayload](t, errs[len(errs)-1]).Message)
		})
	}
}

// --- Chat flow ---

func TestChatPresence_OnlineBatchAndTransition(t *testing.T) {
	env := newTestEnv(t)
	conn1, conn2 := newMockConn(), newMockConn()
	sess1, sess2 := env.newSession(conn1), env.newSession(conn2)

	joinChat(t, sess1, "u1")
	batches := conn1.ofType(t, envelope.TypeUserOnlineBatch)
	require.Len(t, batches, 1)
	batch := decode[envelope.UserOnlineBatchPayload](t, batches[0])
	assert.NotNil(t, batch.UserIDs)
	assert.Empty(t, batch.UserIDs, "u2 is not online yet")

	joinChat(t, sess2, "u2")
	online := conn1.ofType(t, envelope.TypeUserOnline)
	require.Len(t, online, 1)
	assert.Equal(t, "u2", decode[envelope.UserOnlinePayload](t, online[0]).UserID)

	batches2 := conn2.ofType(t, envelope.TypeUserOnlineBatch)
	require.Len(t, batches2, 1)
	assert.Equal(t, []string{"u1"}, decode[envelope.UserOnlineBatchPayload](t, batches2[0]).UserIDs)

	// Online status was persisted for both transitions.
	_, ok := env.store.LastSeen("u1")
	assert.True(t, ok)
}

func TestChatPresence_MultiTabOfflineOnce(t *testing.T) {
	env := newTestEnv(t)
	connPeer, tab1, tab2 := newMockConn(), newMockConn(), newMockConn()
	sessPeer := env.newSession(connPeer)
	sessTab1, sessTab2 := env.newSession(tab1), env.newSession(tab2)

	joinChat(t, sessPeer, "u1")
	joinChat(t, sessTab1, "u2")
	joinChat(t, sessTab2, "u2")

	online := connPeer.ofType(t, envelope.TypeUserOnline)
	require.Len(t, online, 1, "second tab must not re-announce online")

	sessTab1.HandleClose(context.Background())
	assert.Empty(t, connPeer.ofType(t, envelope.TypeUserOffline), "closing one of two tabs must not announce offline")

	sessTab2.HandleClose(context.Background())
	offline := connPeer.ofType(t, envelope.TypeUserOffline)
	require.Len(t, offline, 1, "closing the last tab must announce offline exactly once")
	assert.Equal(t, "u2", decode[envelope.UserOfflinePayload](t, offline[0]).UserID)
}

func TestChatMessage_DeliveryAndSilentDrop(t *testing.T) {
	env := newTestEnv(t)
	sender, tab1, tab2 := newMockConn(), newMockConn(), newMockConn()
	sessSender := env.newSession(sender)
	joinChat(t, sessSender, "u1")
	joinChat(t, env.newSession(tab1), "u2")
	joinChat(t, env.newSession(tab2), "u2")

	sessSender.HandleMessage(context.Background(), inbound(t, envelope.TypeChatMessage, envelope.ChatMessagePayload{
		ReceiverID:     "u2",
		Content:        "hello",
		ConversationID: "c1",
		MessageID:      "m1",
	}))

	for _, tab := range []*mockConn{tab1, tab2} {
		msgs := tab.ofType(t, envelope.TypeChatMessage)
		require.Len(t, msgs, 1, "every live tab of the receiver gets the message")
		var payload struct {
			Content  string `json:"content"`
			SenderID string `json:"senderId"`
		}
		require.NoError(t, json.Unmarshal(msgs[0], &payload))
		assert.Equal(t, "hello", payload.Content)
		assert.Equal(t, "u1", payload.SenderID)
	}

	// A receiver with zero live connections: no delivery, no error.
	before := len(sender.envelopes(t))
	sessSender.HandleMessage(context.Background(), inbound(t, envelope.TypeChatMessage, envelope.ChatMessagePayload{
		ReceiverID:     "u3",
		Content:        "anyone there?",
		ConversationID: "c9",
		MessageID:      "m2",
	}))
	assert.Len(t, sender.envelopes(t), before, "silent drop must not surface to the sender")
}

func TestTypingAndReadReceipt_Routing(t *testing.T) {
	env := newTestEnv(t)
	conn1, conn2 := newMockConn(), newMockConn()
	sess1 := env.newSession(conn1)
	joinChat(t, sess1, "u1")
	joinChat(t, env.newSession(conn2), "u2")

	sess1.HandleMessage(context.Background(), inbound(t, envelope.TypeTypingStart, envelope.TypingPayload{
		ConversationID: "c1",
		ReceiverID:     "u2",
	}))
	typing := conn2.ofType(t, envelope.TypeTypingStart)
	require.Len(t, typing, 1)
	var typingPayload struct {
		UserID         string `json:"userId"`
		ConversationID string `json:"conversationId"`
	}
	require.NoError(t, json.Unmarshal(typing[0], &typingPayload))
	assert.Equal(t, "u1", typingPayload.UserID)
	assert.Equal(t, "c1", typingPayload.ConversationID)

	sess1.HandleMessage(context.Background(), inbound(t, envelope.TypeReadReceipt, envelope.ReadReceiptPayload{
		SenderID:       "u2",
		ConversationID: "c1",
	}))
	receipts := conn2.ofType(t, envelope.TypeReadReceipt)
	require.Len(t, receipts, 1)
	var receiptPayload struct {
		ReaderID string `json:"readerId"`
	}
	require.NoError(t, json.Unmarshal(receipts[0], &receiptPayload))
	assert.Equal(t, "u1", receiptPayload.ReaderID)
}

func TestCloseRacingJoin_LeavesNoGhostMember(t *testing.T) {
	env := newTestEnv(t)
	roomJoin := inbound(t, envelope.TypeJoinWhiteboard, envelope.JoinWhiteboardPayload{
		RoomID:     "w1",
		Credential: token(t, "u1"),
	})
	chatJoin := inbound(t, envelope.TypeJoinChat, envelope.JoinChatPayload{
		Credential: token(t, "u2"),
	})

	// Whichever side wins, a closed connection must never stay
	// registered: either the close runs after the join and deregisters
	// it, or the join observes the closed state and registers nothing.
	for i := 0; i < 50; i++ {
		for _, msg := range [][]byte{roomJoin, chatJoin} {
			conn := newMockConn()
			sess := env.newSession(conn)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				sess.HandleMessage(context.Background(), msg)
			}()
			go func() {
				defer wg.Done()
				sess.HandleClose(context.Background())
			}()
			wg.Wait()
			// A join that lost the race is dropped without cleanup
			// running again; close the session once more to cover the
			// join-wins ordering deterministically.
			sess.HandleClose(context.Background())
		}

		rooms, members := env.rooms.Stats()
		require.Equal(t, 0, rooms, "no room may outlive its closed connections")
		require.Equal(t, 0, members)
		users, conns := env.presence.Stats()
		require.Equal(t, 0, users, "no presence entry may outlive its closed connections")
		require.Equal(t, 0, conns)
	}
}

func TestConcurrentChatJoins_SingleOnlineAnnouncement(t *testing.T) {
	env := newTestEnv(t)
	peer := newMockConn()
	joinChat(t, env.newSession(peer), "u1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		conn := newMockConn()
		sess := env.newSession(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			joinChat(t, sess, "u2")
		}()
	}
	wg.Wait()

	assert.Len(t, peer.ofType(t, envelope.TypeUserOnline), 1,
		"eight concurrent tabs still mean exactly one 0->1 transition")
	_, conns := env.presence.Stats()
	assert.Equal(t, 9, conns)
}
