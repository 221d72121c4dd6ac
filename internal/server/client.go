package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	// ErrClientClosed is returned by Send after the client was closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one WebSocket connection. It implements hub.Conn: Send never
// blocks, and frames are written in the order they were queued.
type Client struct {
	id             string
	conn           *websocket.Conn
	addr           string
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
	session        *hub.Session
	maxMessageSize int64
	limiter        *frameLimiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps conn and attaches a Pending session to relay.
func NewClient(conn *websocket.Conn, relay *hub.Hub, cfg Config, addr string, logger zerolog.Logger, metrics *telemetry.Metrics) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()
	c := &Client{
		id:             id,
		conn:           conn,
		addr:           addr,
		logger:         logger.With().Str("conn", id).Str("remote", addr).Logger(),
		metrics:        metrics,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newFrameLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		send:           make(chan []byte, cfg.SendBufferSize),
	}
	c.session = relay.Attach(c)
	return c
}

// ID returns the connection handle id.
func (c *Client) ID() string { return c.id }

// Session returns the client's lifecycle state machine.
func (c *Client) Session() *hub.Session { return c.session }

// Send queues payload for the write pump.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Error setting initial read deadline.")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("Error setting read deadline in pong handler.")
		}
		return nil
	})
}

// handleReadError logs a read failure at the level it deserves.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("Message exceeded maximum size.")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Debug().Err(err).Msg("Client disconnected.")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("Connection closed.")
	default:
		c.logger.Warn().Err(err).Msg("WebSocket read error.")
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
// A streak of dropped frames is logged when it starts and when it ends.
func (c *Client) checkRateLimit(ctx context.Context) bool {
	if c.limiter == nil {
		return true
	}
	v := c.limiter.take()
	if v.Admitted {
		if v.Refused > 0 {
			c.logger.Info().Int("dropped", v.Refused).Msg("Rate limit lifted.")
		}
		return true
	}
	c.metrics.InboundDropped(ctx, "rate_limited")
	if v.Refused == 1 {
		c.logger.Warn().Int("burst", c.rateLimit.Burst).Dur("interval", c.rateLimit.RefillInterval).Msg("Rate limit exceeded; discarding messages.")
	}
	return false
}

// readPump hands every inbound frame to the session, one at a time. When the
// socket fails the session is disconnected and the write pump stopped.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.session.Disconnect(context.WithoutCancel(ctx))
		c.Close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("Error closing connection in readPump.")
		}
	}()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.metrics.InboundDropped(ctx, "binary")
			continue
		}
		if !c.checkRateLimit(ctx) {
			continue
		}
		c.session.HandleFrame(ctx, raw)
	}
}

// writePump drains the send queue, one WebSocket frame per event, and pings
// the peer every pingPeriod.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("Error closing connection in writePump.")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.writeCloseMessage()
				return
			}
			if !c.write(websocket.TextMessage, message) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Error setting write deadline.")
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Int("type", messageType).Msg("Error writing message.")
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("Error writing close message.")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
