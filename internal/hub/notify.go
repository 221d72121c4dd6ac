package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

// ErrInvalidNotice is returned for notices missing a required field.
var ErrInvalidNotice = errors.New("invalid notice")

// MessageNotice tells the hub that the write path persisted a message.
type MessageNotice struct {
	TargetID string          `json:"targetId"`
	SenderID string          `json:"senderId"`
	Message  json.RawMessage `json:"message"`
}

// ReactionNotice tells the hub that a reaction was added or removed.
type ReactionNotice struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji"`
	Action         string `json:"action"`
}

// GroupNotice tells the hub that a group's membership changed or the group
// was deleted. AffectedUserIDs are notified in addition to the current
// members: the removed member, or the members of a deleted group.
type GroupNotice struct {
	GroupID         string          `json:"groupId"`
	Action          string          `json:"action"`
	ActorID         string          `json:"actorId"`
	AffectedUserIDs []string        `json:"affectedUserIds,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// NotifyNewMessage routes a newMessage event to the recipients of n.TargetID.
func (h *Hub) NotifyNewMessage(ctx context.Context, n MessageNotice) error {
	if n.TargetID == "" || n.SenderID == "" || len(n.Message) == 0 {
		return fmt.Errorf("%w: message notice needs targetId, senderId and message", ErrInvalidNotice)
	}
	if !json.Valid(n.Message) {
		return fmt.Errorf("%w: message is not valid JSON", ErrInvalidNotice)
	}
	targets, err := h.resolver.Resolve(ctx, n.TargetID, n.SenderID)
	if err != nil {
		return err
	}
	env, err := NewEnvelope(protocol.TypeNewMessage, protocol.NewMessage{Message: n.Message}, targets)
	if err != nil {
		return err
	}
	h.router.Route(ctx, env)
	return nil
}

// NotifyReaction routes a messageReaction event to the other members of the
// conversation.
func (h *Hub) NotifyReaction(ctx context.Context, n ReactionNotice) error {
	if n.ConversationID == "" || n.MessageID == "" || n.UserID == "" || n.Emoji == "" {
		return fmt.Errorf("%w: reaction notice needs conversationId, messageId, userId and emoji", ErrInvalidNotice)
	}
	if n.Action != protocol.ReactionAdd && n.Action != protocol.ReactionRemove {
		return fmt.Errorf("%w: reaction action %q", ErrInvalidNotice, n.Action)
	}
	targets, err := h.resolver.Resolve(ctx, n.ConversationID, n.UserID)
	if err != nil {
		return err
	}
	env, err := NewEnvelope(protocol.TypeMessageReaction, protocol.MessageReaction{
		MessageID:      n.MessageID,
		ConversationID: n.ConversationID,
		Reaction: protocol.Reaction{
			UserID: n.UserID,
			Emoji:  n.Emoji,
			Action: n.Action,
		},
	}, targets)
	if err != nil {
		return err
	}
	h.router.Route(ctx, env)
	return nil
}

// NotifyGroupUpdate routes a groupUpdate event to the group's current
// members and the affected users, minus the actor. A deleted group may no
// longer exist; its audience is then the affected users alone.
func (h *Hub) NotifyGroupUpdate(ctx context.Context, n GroupNotice) error {
	if n.GroupID == "" {
		return fmt.Errorf("%w: group notice needs groupId", ErrInvalidNotice)
	}
	switch n.Action {
	case protocol.GroupMemberAdded, protocol.GroupMemberRemoved, protocol.GroupDeleted:
	default:
		return fmt.Errorf("%w: group action %q", ErrInvalidNotice, n.Action)
	}
	if len(n.Data) > 0 && !json.Valid(n.Data) {
		return fmt.Errorf("%w: group data is not valid JSON", ErrInvalidNotice)
	}

	targets, err := h.resolver.GroupAudience(ctx, n.GroupID, n.ActorID)
	if err != nil {
		if !(n.Action == protocol.GroupDeleted && errors.Is(err, ErrTargetNotFound)) {
			return err
		}
		targets = make(UserSet)
	}
	for _, id := range n.AffectedUserIDs {
		if id != n.ActorID {
			targets.Add(id)
		}
	}

	env, err := NewEnvelope(protocol.TypeGroupUpdate, protocol.GroupUpdate{
		GroupID: n.GroupID,
		Action:  n.Action,
		Data:    n.Data,
	}, targets)
	if err != nil {
		return err
	}
	h.router.Route(ctx, env)
	return nil
}
