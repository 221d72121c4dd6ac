package server

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

func newDetachedClient(t *testing.T, buffer int) *Client {
	t.Helper()
	mem := store.NewMemoryStore()
	relay := hub.New(hub.Deps{Directory: mem, Logger: zerolog.Nop()}, hub.Options{})
	cfg := DefaultConfig()
	cfg.SendBufferSize = buffer
	return NewClient(nil, relay, cfg, "127.0.0.1:1", zerolog.Nop(), nil)
}

func TestClientSendIsNonBlocking(t *testing.T) {
	c := newDetachedClient(t, 2)

	require.NoError(t, c.Send([]byte("1")))
	require.NoError(t, c.Send([]byte("2")))
	assert.ErrorIs(t, c.Send([]byte("3")), ErrSendBufferFull)

	assert.Equal(t, "1", string(<-c.send))
	assert.Equal(t, "2", string(<-c.send))
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := newDetachedClient(t, 4)
	require.NoError(t, c.Send([]byte("queued")))

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClientClosed)

	assert.Equal(t, "queued", string(<-c.send))
	_, open := <-c.send
	assert.False(t, open)
}

func TestClientIdentity(t *testing.T) {
	a, b := newDetachedClient(t, 1), newDetachedClient(t, 1)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, hub.StatePending, a.Session().State())
}

func TestClientRateLimitLogsOncePerStreak(t *testing.T) {
	c := newDetachedClient(t, 1)
	clock := &fakeClock{t: time.Unix(0, 0)}
	c.limiter = newFrameLimiterWithClock(RateLimitConfig{Burst: 2, RefillInterval: time.Second}, clock.now)
	var logs bytes.Buffer
	c.logger = zerolog.New(&logs)
	ctx := context.Background()

	assert.True(t, c.checkRateLimit(ctx))
	assert.True(t, c.checkRateLimit(ctx))
	for i := 0; i < 5; i++ {
		assert.False(t, c.checkRateLimit(ctx))
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "Rate limit exceeded"))

	clock.advance(time.Second)
	assert.True(t, c.checkRateLimit(ctx))
	assert.Contains(t, logs.String(), `"dropped":5`)
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(errors.New("write tcp: use of closed network connection")))
	assert.True(t, isExpectedCloseError(errors.New("websocket: close sent")))
	assert.False(t, isExpectedCloseError(errors.New("tls: bad record MAC")))
}
