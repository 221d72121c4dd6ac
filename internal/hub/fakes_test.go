package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

var (
	errFakeClosed = errors.New("fake conn closed")
	errFakeFull   = errors.New("fake conn buffer full")
)

// fakeConn records every payload handed to Send.
type fakeConn struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	if c.failSend {
		return errFakeFull
	}
	c.frames = append(c.frames, payload)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setFailing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = true
}

// received decodes every frame of type t.
func (c *fakeConn) received(t *testing.T, typ protocol.Type) []json.RawMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, raw := range c.frames {
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == typ {
			out = append(out, f.Data)
		}
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []protocol.Type {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Type, 0, len(c.frames))
	for _, raw := range c.frames {
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f.Type)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func decodeStatuses(t *testing.T, raws []json.RawMessage) []protocol.UserStatus {
	t.Helper()
	out := make([]protocol.UserStatus, 0, len(raws))
	for _, raw := range raws {
		var s protocol.UserStatus
		require.NoError(t, json.Unmarshal(raw, &s))
		out = append(out, s)
	}
	return out
}

// seededStore has alice, bob, carol and dave; conversation c1 between alice
// and bob; group g1 with alice, bob and carol.
func seededStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		s.PutUser(store.User{ID: id, Username: id})
	}
	s.PutConversation(store.Conversation{ID: "c1", ParticipantIDs: [2]string{"alice", "bob"}})
	s.PutGroup(store.Group{ID: "g1", Name: "team", MemberIDs: []string{"alice", "bob", "carol"}})
	return s
}

func newTestHub(t *testing.T, opts Options) (*Hub, *store.MemoryStore) {
	t.Helper()
	s := seededStore()
	h := New(Deps{
		Directory: s,
		Users:     s,
		Presence:  s,
		Logger:    zerolog.Nop(),
	}, opts)
	return h, s
}
