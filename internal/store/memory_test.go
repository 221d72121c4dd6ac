package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutUser(User{ID: "alice", Username: "alice"})
	s.PutUser(User{ID: "bob", Username: "bob"})
	s.PutConversation(Conversation{ID: "c1", ParticipantIDs: [2]string{"alice", "bob"}})
	s.PutGroup(Group{ID: "g1", Name: "team", MemberIDs: []string{"alice", "bob"}})

	conv, err := s.FindConversationByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, conv.HasParticipant("bob"))
	assert.Equal(t, "alice", conv.Other("bob"))

	_, err = s.FindConversationByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	g, err := s.FindGroupByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, g.MemberIDs)

	users, err := s.GetUsersByIDs(ctx, []string{"bob", "ghost", "alice"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].ID)
	assert.Equal(t, "alice", users[1].ID)
}

func TestMemoryStoreGroupMembership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutGroup(Group{ID: "g1", MemberIDs: []string{"alice"}})

	require.NoError(t, s.AddGroupMember("g1", "bob"))
	require.NoError(t, s.AddGroupMember("g1", "bob"))
	g, err := s.FindGroupByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, g.MemberIDs)

	// Mutating a returned group must not leak into the store.
	g.MemberIDs[0] = "mallory"
	g2, err := s.FindGroupByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "alice", g2.MemberIDs[0])

	require.NoError(t, s.RemoveGroupMember("g1", "alice"))
	g3, err := s.FindGroupByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, g3.MemberIDs)

	assert.ErrorIs(t, s.AddGroupMember("missing", "bob"), ErrNotFound)

	s.DeleteGroup("g1")
	_, err = s.FindGroupByID(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePresence(t *testing.T) {
	s := NewMemoryStore()
	_, ok := s.Presence("alice")
	assert.False(t, ok)

	now := time.Now()
	require.NoError(t, s.UpdatePresence(context.Background(), PresenceRecord{UserID: "alice", IsOnline: true, LastSeenAt: now}))
	rec, ok := s.Presence("alice")
	require.True(t, ok)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, now, rec.LastSeenAt)
}

func TestReadSeed(t *testing.T) {
	doc := `
users:
  - id: alice
    username: alice
    display_name: Alice
  - id: bob
    username: bob
conversations:
  - id: c1
    participants: [alice, bob]
groups:
  - id: g1
    name: team
    members: [alice, bob]
`
	seed, err := ReadSeed(strings.NewReader(doc))
	require.NoError(t, err)

	s := NewMemoryStore()
	s.Apply(seed)

	conv, err := s.FindConversationByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, [2]string{"alice", "bob"}, conv.ParticipantIDs)

	users, err := s.GetUsersByIDs(context.Background(), []string{"alice"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Alice", users[0].DisplayName)
}

func TestReadSeedRejectsBadFixtures(t *testing.T) {
	_, err := ReadSeed(strings.NewReader("conversations:\n  - id: c1\n    participants: [alice, \"\"]\n"))
	assert.Error(t, err)

	_, err = ReadSeed(strings.NewReader("rooms: []\n"))
	assert.Error(t, err, "unknown top-level keys are rejected")

	seed, err := ReadSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seed.Users)
}

func TestConversationOther(t *testing.T) {
	c := &Conversation{ID: "c1", ParticipantIDs: [2]string{"alice", "bob"}}
	assert.Equal(t, "bob", c.Other("alice"))
	assert.Equal(t, "alice", c.Other("bob"))

	self := &Conversation{ID: "notes", ParticipantIDs: [2]string{"alice", "alice"}}
	assert.Empty(t, self.Other("alice"))
	assert.Equal(t, "alice", self.Other("bob"))
}
