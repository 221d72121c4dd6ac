package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

func connect(t *testing.T, h *Hub, connID, userID string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn(connID)
	s := h.Attach(conn)
	s.HandleFrame(context.Background(), []byte(`{"type":"auth","data":{"userId":"`+userID+`"}}`))
	require.Equal(t, StateActive, s.State())
	return s, conn
}

func decodeUserList(t *testing.T, raw json.RawMessage) protocol.UserList {
	t.Helper()
	var list protocol.UserList
	require.NoError(t, json.Unmarshal(raw, &list))
	return list
}

func TestAuthenticateAnnouncesPresence(t *testing.T) {
	h, s := newTestHub(t, Options{})
	_, bob := connect(t, h, "bob-1", "bob")
	bob.reset()

	_, alice := connect(t, h, "alice-1", "alice")

	lists := alice.received(t, protocol.TypeUserList)
	require.Len(t, lists, 1)
	users := decodeUserList(t, lists[0]).Users
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "alice", users[0].Username)
	assert.True(t, users[0].IsOnline)
	assert.Empty(t, alice.received(t, protocol.TypeUserStatus), "no self-broadcast")

	statuses := decodeStatuses(t, bob.received(t, protocol.TypeUserStatus))
	require.Len(t, statuses, 1)
	assert.Equal(t, "alice", statuses[0].UserID)
	assert.True(t, statuses[0].IsOnline)

	rec, ok := s.Presence("alice")
	require.True(t, ok)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, 2, h.OnlineCount())
}

func TestBroadcastUserListOption(t *testing.T) {
	h, _ := newTestHub(t, Options{BroadcastUserList: true})
	_, bob := connect(t, h, "bob-1", "bob")
	bob.reset()

	connect(t, h, "alice-1", "alice")

	assert.Equal(t, []protocol.Type{protocol.TypeUserStatus, protocol.TypeUserList}, bob.types(t))
}

func TestPendingSessionIgnoresEvents(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	_, bob := connect(t, h, "bob-1", "bob")
	bob.reset()

	conn := newFakeConn("anon")
	s := h.Attach(conn)
	s.HandleFrame(context.Background(), []byte(`{"type":"typing","data":{"conversationId":"c1","isTyping":true}}`))
	s.HandleFrame(context.Background(), []byte(`{"type":"messageRead","data":{"messageId":"m1","conversationId":"c1"}}`))

	assert.Equal(t, StatePending, s.State())
	assert.Empty(t, bob.types(t))
	assert.Empty(t, conn.types(t))
}

func TestMalformedFrameKeepsSession(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	conn := newFakeConn("c")
	s := h.Attach(conn)

	s.HandleFrame(context.Background(), []byte(`not json`))
	s.HandleFrame(context.Background(), []byte(`{"type":"bogus","data":{}}`))
	s.HandleFrame(context.Background(), []byte(`{"type":"auth","data":{"userId":""}}`))
	assert.Equal(t, StatePending, s.State())

	s.HandleFrame(context.Background(), []byte(`{"type":"auth","data":{"userId":"alice"}}`))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, "alice", s.UserID())
}

func TestTypingReachesOnlyTheOtherParticipant(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	aliceSession, alice := connect(t, h, "alice-1", "alice")
	_, bob := connect(t, h, "bob-1", "bob")
	_, carol := connect(t, h, "carol-1", "carol")
	alice.reset()
	bob.reset()
	carol.reset()

	aliceSession.HandleFrame(context.Background(), []byte(`{"type":"typing","data":{"userId":"mallory","conversationId":"c1","isTyping":true}}`))
	aliceSession.HandleFrame(context.Background(), []byte(`{"type":"stopTyping","data":{"conversationId":"c1","isTyping":true}}`))

	got := bob.received(t, protocol.TypeTyping)
	require.Len(t, got, 2)
	var first, second protocol.Typing
	require.NoError(t, json.Unmarshal(got[0], &first))
	require.NoError(t, json.Unmarshal(got[1], &second))
	assert.Equal(t, protocol.Typing{UserID: "alice", ConversationID: "c1", IsTyping: true}, first)
	assert.Equal(t, "alice", second.UserID, "sender identity comes from the session")
	assert.False(t, second.IsTyping)

	assert.Empty(t, alice.types(t))
	assert.Empty(t, carol.types(t))
}

func TestTypingFromOutsiderIsDropped(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	_, bob := connect(t, h, "bob-1", "bob")
	carolSession, _ := connect(t, h, "carol-1", "carol")
	bob.reset()

	carolSession.Typing(context.Background(), "c1", true)
	assert.Empty(t, bob.types(t))
}

func TestMessageReadRelay(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	bobSession, _ := connect(t, h, "bob-1", "bob")
	_, alice := connect(t, h, "alice-1", "alice")
	alice.reset()

	bobSession.HandleFrame(context.Background(), []byte(`{"type":"messageRead","data":{"messageId":"m1","conversationId":"c1"}}`))

	got := alice.received(t, protocol.TypeMessageRead)
	require.Len(t, got, 1)
	var read protocol.MessageRead
	require.NoError(t, json.Unmarshal(got[0], &read))
	assert.Equal(t, protocol.MessageRead{UserID: "bob", MessageID: "m1", ConversationID: "c1"}, read)
}

func TestDisconnectBroadcastsOfflineOnce(t *testing.T) {
	h, s := newTestHub(t, Options{})
	aliceSession, _ := connect(t, h, "alice-1", "alice")
	_, bob := connect(t, h, "bob-1", "bob")
	_, carol := connect(t, h, "carol-1", "carol")
	bob.reset()
	carol.reset()

	aliceSession.Disconnect(context.Background())
	aliceSession.Disconnect(context.Background())

	for _, c := range []*fakeConn{bob, carol} {
		statuses := decodeStatuses(t, c.received(t, protocol.TypeUserStatus))
		require.Len(t, statuses, 1)
		assert.Equal(t, "alice", statuses[0].UserID)
		assert.False(t, statuses[0].IsOnline)
		assert.False(t, statuses[0].LastSeenAt.IsZero())
	}

	assert.Equal(t, StateClosed, aliceSession.State())
	assert.False(t, h.Status("alice").IsOnline)
	rec, ok := s.Presence("alice")
	require.True(t, ok)
	assert.False(t, rec.IsOnline)
}

func TestDisconnectPendingIsSilent(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	_, bob := connect(t, h, "bob-1", "bob")
	bob.reset()

	s := h.Attach(newFakeConn("anon"))
	s.Disconnect(context.Background())
	s.HandleFrame(context.Background(), []byte(`{"type":"auth","data":{"userId":"alice"}}`))

	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, bob.types(t))
	assert.False(t, h.Status("alice").IsOnline)
}

func TestReauthenticationDoesNotFlicker(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	first, oldConn := connect(t, h, "alice-1", "alice")
	_, bob := connect(t, h, "bob-1", "bob")
	bob.reset()

	second, newConn := connect(t, h, "alice-2", "alice")
	assert.Len(t, newConn.received(t, protocol.TypeUserList), 1)
	assert.False(t, oldConn.isClosed())

	first.Disconnect(context.Background())
	assert.True(t, h.Status("alice").IsOnline, "closing a superseded handle keeps the user online")
	assert.Empty(t, bob.received(t, protocol.TypeUserStatus), "no flicker")

	second.Disconnect(context.Background())
	statuses := decodeStatuses(t, bob.received(t, protocol.TypeUserStatus))
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].IsOnline)
}

func TestSupersededConnectionIsMuted(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	first, oldConn := connect(t, h, "alice-1", "alice")
	_, bob := connect(t, h, "bob-1", "bob")
	connect(t, h, "alice-2", "alice")
	bob.reset()
	oldConn.reset()

	first.Typing(context.Background(), "c1", true)
	assert.Empty(t, bob.types(t), "events from a superseded handle are dropped")

	h.router.Route(context.Background(), typingEnvelope(t, 1, "alice"))
	assert.Empty(t, oldConn.types(t), "superseded handle receives nothing")
}

func TestCloseSupersededOption(t *testing.T) {
	h, _ := newTestHub(t, Options{CloseSuperseded: true})
	_, oldConn := connect(t, h, "alice-1", "alice")
	connect(t, h, "alice-2", "alice")
	assert.True(t, oldConn.isClosed())
	assert.True(t, h.Status("alice").IsOnline)
}

func TestRepeatedAuthOnActiveSession(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	s, conn := connect(t, h, "alice-1", "alice")
	conn.reset()

	s.Authenticate(context.Background(), "alice")
	assert.Equal(t, []protocol.Type{protocol.TypeUserList}, conn.types(t))

	conn.reset()
	s.Authenticate(context.Background(), "bob")
	assert.Empty(t, conn.types(t))
	assert.Equal(t, "alice", s.UserID())
	assert.False(t, h.Status("bob").IsOnline)
}

func TestDeliveryFailureDisconnectsOnlyThatClient(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	_, alice := connect(t, h, "alice-1", "alice")
	_, bob := connect(t, h, "bob-1", "bob")
	carolSession, _ := connect(t, h, "carol-1", "carol")
	alice.reset()
	bob.setFailing()

	require.NoError(t, h.NotifyNewMessage(context.Background(), MessageNotice{
		TargetID: "g1",
		SenderID: "carol",
		Message:  json.RawMessage(`{"id":"m1","content":"hi"}`),
	}))

	assert.Len(t, alice.received(t, protocol.TypeNewMessage), 1)
	assert.True(t, bob.isClosed())
	assert.Eventually(t, func() bool {
		return !h.Registry().Contains("bob")
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, s := range decodeStatuses(t, alice.received(t, protocol.TypeUserStatus)) {
			if s.UserID == "bob" && !s.IsOnline {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, carolSession.State())
}
