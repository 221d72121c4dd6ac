package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Str("user", "alice").Msg("shown")
	assert.Contains(t, buf.String(), `"user":"alice"`)
	assert.Contains(t, buf.String(), `"service":"gochat-relay"`)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "chatty", false)

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	logger.Info().Msg("shown")
	assert.NotEmpty(t, buf.String())
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.Delivery(ctx, "typing", OutcomeDelivered)
		m.PresenceTransition(ctx, true)
		m.InboundDropped(ctx, "malformed")
		m.ConnectionDelta(ctx, 1)
	})
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(noop.NewMeterProvider())
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.Delivery(ctx, "newMessage", OutcomeOffline)
		m.PresenceTransition(ctx, false)
		m.ConnectionDelta(ctx, -1)
	})
}
