package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/hub"
)

// publisher is satisfied by *nats.Conn.
type publisher interface {
	Publish(subject string, data []byte) error
}

// PresencePublisher mirrors presence changes onto <prefix>.presence.<token>,
// where token is the user id escaped into a single subject token. The
// payload carries the raw user id.
type PresencePublisher struct {
	pub    publisher
	prefix string
	logger zerolog.Logger
}

// NewPresencePublisher builds a publisher for subjects under prefix.
func NewPresencePublisher(pub publisher, prefix string, logger zerolog.Logger) *PresencePublisher {
	return &PresencePublisher{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.With().Str("component", "PresencePublisher").Logger(),
	}
}

// Subject returns the subject a change for userID is published on.
func (p *PresencePublisher) Subject(userID string) string {
	return p.prefix + "." + SubjectPresence + "." + SubjectToken(userID)
}

// SubjectToken percent-escapes every byte of id outside [A-Za-z0-9_-], so
// separators, wildcards and whitespace can never split or widen a subject.
// The empty id maps to "%".
func SubjectToken(id string) string {
	if id == "" {
		return "%"
	}
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if isSubjectSafe(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isSubjectSafe(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// Run publishes every change until changes is closed or ctx is done.
func (p *PresencePublisher) Run(ctx context.Context, changes <-chan hub.PresenceChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			p.publish(change)
		}
	}
}

func (p *PresencePublisher) publish(change hub.PresenceChange) {
	data, err := json.Marshal(change)
	if err != nil {
		p.logger.Error().Err(err).Str("user", change.UserID).Msg("Failed to encode presence change.")
		return
	}
	if err := p.pub.Publish(p.Subject(change.UserID), data); err != nil {
		p.logger.Warn().Err(err).Str("user", change.UserID).Msg("Failed to publish presence change.")
	}
}
