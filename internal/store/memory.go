package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process implementation of every collaborator
// interface. It backs the "local" run mode and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	conversations map[string]Conversation
	groups        map[string]Group
	presence      map[string]PresenceRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		conversations: make(map[string]Conversation),
		groups:        make(map[string]Group),
		presence:      make(map[string]PresenceRecord),
	}
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutConversation inserts or replaces a conversation.
func (s *MemoryStore) PutConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

// PutGroup inserts or replaces a group. The member slice is copied.
func (s *MemoryStore) PutGroup(g Group) {
	g.MemberIDs = append([]string(nil), g.MemberIDs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

// AddGroupMember adds userID to the group if it is not already a member.
func (s *MemoryStore) AddGroupMember(groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if g.HasMember(userID) {
		return nil
	}
	g.MemberIDs = append(append([]string(nil), g.MemberIDs...), userID)
	s.groups[groupID] = g
	return nil
}

// RemoveGroupMember removes userID from the group.
func (s *MemoryStore) RemoveGroupMember(groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	members := make([]string, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	g.MemberIDs = members
	s.groups[groupID] = g
	return nil
}

// DeleteGroup removes a group.
func (s *MemoryStore) DeleteGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
}

// FindConversationByID implements ConversationFinder.
func (s *MemoryStore) FindConversationByID(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// FindGroupByID implements GroupFinder. The returned group owns its member
// slice.
func (s *MemoryStore) FindGroupByID(_ context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	g.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &g, nil
}

// GetUsersByIDs implements UserLookup.
func (s *MemoryStore) GetUsersByIDs(_ context.Context, ids []string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// UpdatePresence implements PresenceWriter.
func (s *MemoryStore) UpdatePresence(_ context.Context, rec PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[rec.UserID] = rec
	return nil
}

// Presence returns the last persisted record for userID.
func (s *MemoryStore) Presence(userID string) (PresenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.presence[userID]
	return rec, ok
}
