package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

// State is the lifecycle state of a Session.
type State int

// Session states.
const (
	StatePending State = iota // socket open, not yet identified
	StateActive               // registered under a user id
	StateClosed               // terminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state machine. Inbound frames for one
// connection must be handed to its Session sequentially.
type Session struct {
	hub    *Hub
	conn   Conn
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	userID string
}

// Attach starts a Pending session for a freshly opened connection.
func (h *Hub) Attach(conn Conn) *Session {
	return &Session{
		hub:    h,
		conn:   conn,
		logger: h.logger.With().Str("conn", conn.ID()).Logger(),
		state:  StatePending,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user, or "" while Pending.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// HandleFrame decodes one inbound frame and applies it. Malformed frames are
// logged and dropped; the connection stays open.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	event, err := protocol.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownType) {
			reason = "unknown_type"
		}
		s.hub.metrics.InboundDropped(ctx, reason)
		s.logger.Warn().Err(err).Msg("Dropping inbound frame.")
		return
	}

	switch e := event.(type) {
	case *protocol.Auth:
		s.Authenticate(ctx, e.UserID)
	case *protocol.Typing:
		s.Typing(ctx, e.ConversationID, e.IsTyping)
	case *protocol.MessageRead:
		s.MessageRead(ctx, e.MessageID, e.ConversationID)
	}
}

// Authenticate moves a Pending session to Active under userID. Repeating the
// same userID on an Active session re-sends the user list; a different
// userID is ignored.
func (s *Session) Authenticate(ctx context.Context, userID string) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateActive:
		current := s.userID
		s.mu.Unlock()
		if current != userID {
			s.logger.Warn().Str("user", current).Str("requested", userID).Msg("Ignoring auth for a different user on an active connection.")
			return
		}
		if s.hub.registry.IsCurrent(userID, s.conn) {
			s.hub.sendUserList(ctx, s.conn, userID)
		}
		return
	}
	s.state = StateActive
	s.userID = userID
	s.mu.Unlock()

	s.hub.activate(ctx, s.conn, userID)
}

// Disconnect closes the session. It is safe to call more than once.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()

	if prev != StateActive {
		return
	}
	s.hub.release(ctx, s.conn)
}

// Typing relays a typing indicator to the other members of conversationID.
func (s *Session) Typing(ctx context.Context, conversationID string, isTyping bool) {
	userID, ok := s.currentUser(ctx, protocol.TypeTyping)
	if !ok {
		return
	}
	s.relay(ctx, protocol.TypeTyping, conversationID, userID, protocol.Typing{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

// MessageRead relays a read receipt to the other members of conversationID.
// Durable read state belongs to the write path.
func (s *Session) MessageRead(ctx context.Context, messageID, conversationID string) {
	userID, ok := s.currentUser(ctx, protocol.TypeMessageRead)
	if !ok {
		return
	}
	s.logger.Debug().Str("user", userID).Str("message", messageID).Str("target", conversationID).Msg("Message read.")
	s.relay(ctx, protocol.TypeMessageRead, conversationID, userID, protocol.MessageRead{
		UserID:         userID,
		MessageID:      messageID,
		ConversationID: conversationID,
	})
}

// currentUser returns the session's user if the session is Active and still
// the user's registered connection.
func (s *Session) currentUser(ctx context.Context, t protocol.Type) (string, bool) {
	s.mu.Lock()
	state, userID := s.state, s.userID
	s.mu.Unlock()

	if state != StateActive {
		s.hub.metrics.InboundDropped(ctx, "not_active")
		s.logger.Debug().Str("event", string(t)).Str("state", state.String()).Msg("Ignoring event on inactive connection.")
		return "", false
	}
	if !s.hub.registry.IsCurrent(userID, s.conn) {
		s.hub.metrics.InboundDropped(ctx, "superseded")
		s.logger.Debug().Str("user", userID).Str("event", string(t)).Msg("Ignoring event from superseded connection.")
		return "", false
	}
	return userID, true
}

func (s *Session) relay(ctx context.Context, t protocol.Type, targetID, senderID string, data any) {
	targets, err := s.hub.resolver.Resolve(ctx, targetID, senderID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", senderID).Str("event", string(t)).Str("target", targetID).Msg("Cannot resolve recipients.")
		return
	}
	env, err := NewEnvelope(t, data, targets)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(t)).Msg("Failed to encode event.")
		return
	}
	s.hub.router.Route(ctx, env)
}
