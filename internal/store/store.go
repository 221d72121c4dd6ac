// Package store holds the persistence collaborators the relay reads from:
// conversations, groups, user profiles, and the persisted presence record.
//
// The relay never caches what these return beyond a single call.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("store: not found")

// User is a profile. Online state is never stored here; it lives in the
// connection registry.
type User struct {
	ID          string `json:"id" yaml:"id"`
	Username    string `json:"username" yaml:"username"`
	DisplayName string `json:"displayName,omitempty" yaml:"display_name"`
	AvatarURL   string `json:"avatarUrl,omitempty" yaml:"avatar_url"`
}

// Conversation is a two-party conversation.
type Conversation struct {
	ID             string    `json:"id" yaml:"id"`
	ParticipantIDs [2]string `json:"participantIds" yaml:"participants"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantIDs[0] == userID || c.ParticipantIDs[1] == userID
}

// Other returns the participant that is not userID, or "" when both
// participants are userID.
func (c *Conversation) Other(userID string) string {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// Group is a named set of members.
type Group struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	MemberIDs []string `json:"memberIds" yaml:"members"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PresenceRecord is the persisted form of the last presence transition.
type PresenceRecord struct {
	UserID     string    `json:"userId"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// ConversationFinder looks up two-party conversations.
type ConversationFinder interface {
	FindConversationByID(ctx context.Context, id string) (*Conversation, error)
}

// GroupFinder looks up groups with their member list.
type GroupFinder interface {
	FindGroupByID(ctx context.Context, id string) (*Group, error)
}

// UserLookup hydrates profiles. Unknown ids are skipped, not errors.
type UserLookup interface {
	GetUsersByIDs(ctx context.Context, ids []string) ([]User, error)
}

// PresenceWriter persists presence transitions.
type PresenceWriter interface {
	UpdatePresence(ctx context.Context, rec PresenceRecord) error
}
