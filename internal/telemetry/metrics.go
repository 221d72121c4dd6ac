// Package telemetry builds the process logger and the OpenTelemetry
// instruments the relay records into.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeFailed    = "failed"
)

// Metrics holds the relay's instruments. The zero value is not usable; a nil
// *Metrics is, and records nothing.
type Metrics struct {
	deliveries  metric.Int64Counter
	transitions metric.Int64Counter
	dropped     metric.Int64Counter
	connections metric.Int64UpDownCounter
}

// NewMetrics creates instruments on the given meter provider. A nil provider
// uses the global one.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("gochat-relay")

	deliveries, _ := meter.Int64Counter("relay_deliveries_total",
		metric.WithDescription("Events handed to a recipient connection, by type and outcome"))
	transitions, _ := meter.Int64Counter("relay_presence_transitions_total",
		metric.WithDescription("Presence transitions, by direction"))
	dropped, _ := meter.Int64Counter("relay_inbound_dropped_total",
		metric.WithDescription("Inbound frames dropped, by reason"))
	connections, _ := meter.Int64UpDownCounter("relay_active_connections",
		metric.WithDescription("Authenticated connections currently registered"))

	return &Metrics{
		deliveries:  deliveries,
		transitions: transitions,
		dropped:     dropped,
		connections: connections,
	}
}

// Delivery records one recipient delivery attempt.
func (m *Metrics) Delivery(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventType),
		attribute.String("outcome", outcome),
	))
}

// PresenceTransition records a user going online or offline.
func (m *Metrics) PresenceTransition(ctx context.Context, online bool) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", online)))
}

// InboundDropped records an inbound frame that was not processed.
func (m *Metrics) InboundDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ConnectionDelta moves the registered connection gauge.
func (m *Metrics) ConnectionDelta(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, delta)
}
