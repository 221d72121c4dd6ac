// Package protocol defines the JSON event vocabulary exchanged over a relay
// connection and the codec that frames it.
//
// Every frame on the wire is a JSON object of the form
//
//	{"type": "<event type>", "data": {...}}
//
// Inbound frames (client to server) are decoded into typed values by Decode.
// Outbound frames are built with Encode.
package protocol

import (
	"encoding/json"
	"time"
)

// Type names an event on the wire.
type Type string

// Client to server.
const (
	TypeAuth        Type = "auth"
	TypeTyping      Type = "typing"
	TypeStopTyping  Type = "stopTyping"
	TypeMessageRead Type = "messageRead"
)

// Server to client. TypeTyping and TypeMessageRead are also sent outbound.
const (
	TypeNewMessage      Type = "newMessage"
	TypeUserStatus      Type = "userStatus"
	TypeUserList        Type = "userList"
	TypeGroupUpdate     Type = "groupUpdate"
	TypeMessageReaction Type = "messageReaction"
)

// Auth identifies the user behind a connection.
type Auth struct {
	UserID string `json:"userId"`
}

// Typing is a typing indicator. Inbound it carries only ConversationID and
// IsTyping; outbound UserID names the typist.
type Typing struct {
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// MessageRead reports that the reader has seen a message.
type MessageRead struct {
	UserID         string `json:"userId,omitempty"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// UserStatus is a single presence transition.
type UserStatus struct {
	UserID     string    `json:"userId"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// UserEntry is one row of a UserList snapshot.
type UserEntry struct {
	ID          string     `json:"id"`
	Username    string     `json:"username,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	IsOnline    bool       `json:"isOnline"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

// UserList is the full presence snapshot.
type UserList struct {
	Users []UserEntry `json:"users"`
}

// NewMessage wraps a message persisted by the write path. The message body is
// passed through untouched.
type NewMessage struct {
	Message json.RawMessage `json:"message"`
}

// Group update actions.
const (
	GroupMemberAdded   = "memberAdded"
	GroupMemberRemoved = "memberRemoved"
	GroupDeleted       = "groupDeleted"
)

// GroupUpdate reports a membership change or deletion of a group.
type GroupUpdate struct {
	GroupID string          `json:"groupId"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Reaction actions.
const (
	ReactionAdd    = "add"
	ReactionRemove = "remove"
)

// Reaction is one user's emoji reaction change.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
	Action string `json:"action"`
}

// MessageReaction is sent to the other members of a conversation when a
// reaction is added or removed.
type MessageReaction struct {
	MessageID      string   `json:"messageId"`
	ConversationID string   `json:"conversationId"`
	Reaction       Reaction `json:"reaction"`
}
