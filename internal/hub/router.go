package hub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

// Envelope is one resolved event ready for delivery. The payload is encoded
// once and shared by every recipient.
type Envelope struct {
	Type    protocol.Type
	Payload []byte
	Targets UserSet
}

// NewEnvelope encodes data as a frame of type t addressed to targets.
func NewEnvelope(t protocol.Type, data any, targets UserSet) (Envelope, error) {
	payload, err := protocol.Encode(t, data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: payload, Targets: targets}, nil
}

// FailureHandler is told about a connection whose Send failed. It runs after
// the fan-out that hit the failure has finished.
type FailureHandler func(ctx context.Context, conn Conn, err error)

// Router delivers envelopes to registered connections. Delivery is best
// effort: offline recipients are skipped, and a failing connection never
// stops delivery to the others.
type Router struct {
	registry  *Registry
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	onFailure FailureHandler
}

// NewRouter builds a router over registry. onFailure may be nil.
func NewRouter(registry *Registry, logger zerolog.Logger, metrics *telemetry.Metrics, onFailure FailureHandler) *Router {
	return &Router{
		registry:  registry,
		logger:    logger.With().Str("component", "EventRouter").Logger(),
		metrics:   metrics,
		onFailure: onFailure,
	}
}

type failedConn struct {
	conn Conn
	err  error
}

// Route delivers env to each of its targets that has a live connection and
// returns how many deliveries were queued.
func (r *Router) Route(ctx context.Context, env Envelope) int {
	var failed []failedConn
	delivered := 0

	for _, uid := range env.Targets.Slice() {
		conn, ok := r.registry.Lookup(uid)
		if !ok {
			r.metrics.Delivery(ctx, string(env.Type), telemetry.OutcomeOffline)
			continue
		}
		if err := r.send(ctx, conn, uid, env); err != nil {
			failed = append(failed, failedConn{conn: conn, err: err})
			continue
		}
		delivered++
	}

	r.logger.Debug().Str("event", string(env.Type)).Int("targets", len(env.Targets)).Int("delivered", delivered).Msg("Routed event.")
	r.handleFailures(ctx, failed)
	return delivered
}

// BroadcastAll delivers a frame to every registered connection except the
// one belonging to excludeUserID (which may be empty).
func (r *Router) BroadcastAll(ctx context.Context, t protocol.Type, payload []byte, excludeUserID string) int {
	env := Envelope{Type: t, Payload: payload}
	var failed []failedConn
	delivered := 0

	for _, entry := range r.registry.snapshot() {
		if entry.userID == excludeUserID {
			continue
		}
		if err := r.send(ctx, entry.conn, entry.userID, env); err != nil {
			failed = append(failed, failedConn{conn: entry.conn, err: err})
			continue
		}
		delivered++
	}

	r.logger.Debug().Str("event", string(t)).Int("delivered", delivered).Msg("Broadcast event.")
	r.handleFailures(ctx, failed)
	return delivered
}

// Unicast delivers a frame to one connection regardless of registry state.
func (r *Router) Unicast(ctx context.Context, conn Conn, userID string, t protocol.Type, payload []byte) error {
	err := r.send(ctx, conn, userID, Envelope{Type: t, Payload: payload})
	if err != nil {
		r.handleFailures(ctx, []failedConn{{conn: conn, err: err}})
	}
	return err
}

func (r *Router) send(ctx context.Context, conn Conn, userID string, env Envelope) error {
	if err := conn.Send(env.Payload); err != nil {
		r.metrics.Delivery(ctx, string(env.Type), telemetry.OutcomeFailed)
		r.logger.Warn().Err(err).Str("user", userID).Str("conn", conn.ID()).Str("event", string(env.Type)).Msg("Delivery failed.")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	r.metrics.Delivery(ctx, string(env.Type), telemetry.OutcomeDelivered)
	return nil
}

func (r *Router) handleFailures(ctx context.Context, failed []failedConn) {
	if r.onFailure == nil {
		return
	}
	for _, f := range failed {
		r.onFailure(ctx, f.conn, f.err)
	}
}
