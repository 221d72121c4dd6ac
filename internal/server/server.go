package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

// Server owns the HTTP surface and the pump goroutines of every client.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	origins  *OriginPolicy
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	clients  map[*Client]struct{}
	draining bool
}

// New builds a Server over relay. metrics may be nil.
func New(cfg Config, relay *hub.Hub, logger zerolog.Logger, metrics *telemetry.Metrics) *Server {
	cfg = cfg.Sanitize()
	logger = logger.With().Str("component", "Server").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		hub:     relay,
		logger:  logger,
		metrics: metrics,
		origins: NewOriginPolicy(cfg.AllowedOrigins, logger),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.CheckOrigin,
	}
	return s
}

// HTTPServer wraps the routes in an http.Server with the relay's timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Port,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serveClient starts the pumps for c unless the server is draining.
func (s *Server) serveClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		defer s.forget(c)
		c.readPump(s.ctx)
	}()

	s.logger.Info().Str("conn", c.ID()).Str("remote", c.addr).Int("clients", count).Msg("Client connected.")
	return true
}

func (s *Server) forget(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Info().Str("conn", c.ID()).Int("clients", count).Msg("Client disconnected.")
}

// ClientCount returns the number of open sockets, authenticated or not.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown refuses new sockets, closes every client and waits for their
// pumps to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.logger.Info().Int("clients", len(clients)).Msg("Shutting down client connections.")
	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info().Msg("Client shutdown completed.")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn().Msg("Shutdown timeout reached; some client goroutines may still be running.")
		return ctx.Err()
	}
}
