// Package ingest connects the relay to the NATS bus: write-path
// notifications come in, presence changes go out.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/hub"
)

// Subject suffixes under the configured prefix.
const (
	SubjectMessage  = "message"
	SubjectReaction = "reaction"
	SubjectGroup    = "group"
	SubjectPresence = "presence"
)

const handleTimeout = 5 * time.Second

var errUnknownSubject = errors.New("unknown subject")

// Notifier is the part of the hub the write path drives.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, n hub.MessageNotice) error
	NotifyReaction(ctx context.Context, n hub.ReactionNotice) error
	NotifyGroupUpdate(ctx context.Context, n hub.GroupNotice) error
}

// Reply is sent back when a notification carries a reply subject.
type Reply struct {
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Connect dials NATS with unlimited reconnects.
func Connect(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected.")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected.")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subscriber feeds write-path notifications from NATS into the hub. Every
// relay instance holds its own connections, so there is no queue group: each
// instance sees every notification.
type Subscriber struct {
	nc       *nats.Conn
	prefix   string
	notifier Notifier
	logger   zerolog.Logger
	subs     []*nats.Subscription
}

// NewSubscriber builds a subscriber for subjects under prefix.
func NewSubscriber(nc *nats.Conn, prefix string, notifier Notifier, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		nc:       nc,
		prefix:   strings.TrimSuffix(prefix, "."),
		notifier: notifier,
		logger:   logger.With().Str("component", "NATSSubscriber").Logger(),
	}
}

// Start subscribes to the message, reaction and group subjects.
func (s *Subscriber) Start(ctx context.Context) error {
	for _, suffix := range []string{SubjectMessage, SubjectReaction, SubjectGroup} {
		subject := s.prefix + "." + suffix
		sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
			reply := s.handle(ctx, msg.Subject, msg.Data)
			if msg.Reply == "" {
				return
			}
			data, err := json.Marshal(reply)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to encode reply.")
				return
			}
			if err := msg.Respond(data); err != nil {
				s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to respond.")
			}
		})
		if err != nil {
			s.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info().Str("subject", subject).Msg("Subscribed.")
	}
	return nil
}

// Stop drops every subscription.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Failed to unsubscribe.")
		}
	}
	s.subs = nil
}

func (s *Subscriber) handle(ctx context.Context, subject string, data []byte) Reply {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	err := s.dispatch(ctx, strings.TrimPrefix(subject, s.prefix+"."), data)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("Notification rejected.")
		return Reply{Error: err.Error(), Status: hub.StatusFor(err)}
	}
	s.logger.Debug().Str("subject", subject).Msg("Notification applied.")
	return Reply{OK: true}
}

func (s *Subscriber) dispatch(ctx context.Context, suffix string, data []byte) error {
	switch suffix {
	case SubjectMessage:
		var n hub.MessageNotice
		if err := decodeNotice(data, &n); err != nil {
			return err
		}
		return s.notifier.NotifyNewMessage(ctx, n)
	case SubjectReaction:
		var n hub.ReactionNotice
		if err := decodeNotice(data, &n); err != nil {
			return err
		}
		return s.notifier.NotifyReaction(ctx, n)
	case SubjectGroup:
		var n hub.GroupNotice
		if err := decodeNotice(data, &n); err != nil {
			return err
		}
		return s.notifier.NotifyGroupUpdate(ctx, n)
	default:
		return fmt.Errorf("%w: %s", errUnknownSubject, suffix)
	}
}

func decodeNotice(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", hub.ErrInvalidNotice, err)
	}
	return nil
}
