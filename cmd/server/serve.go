package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/ingest"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/store"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// backends are the collaborators the hub reads from and writes to.
type backends struct {
	directory hub.Directory
	users     store.UserLookup
	presence  store.PresenceWriter
	closers   []func() error
}

func (b *backends) close(logger zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("Error closing backend.")
		}
	}
}

// buildBackends picks the store for the run mode. Local mode keeps everything
// in memory, optionally seeded from a YAML fixture; prod mode reads Postgres.
// A Redis address moves presence persistence to Redis in either mode.
func buildBackends(ctx context.Context, cfg server.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.RunMode {
	case server.RunModeProd:
		db, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		pg, err := store.NewPostgresStore(db, logger)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			b.close(logger)
			return nil, err
		}
		b.directory, b.users, b.presence = pg, pg, pg
	default:
		mem := store.NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.SeedFile); err != nil {
				return nil, err
			}
			logger.Info().Str("file", cfg.SeedFile).Msg("Loaded seed data.")
		}
		b.directory, b.users, b.presence = mem, mem, mem
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close(logger)
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		rp, err := store.NewRedisPresenceStore(rdb, logger)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.presence = rp
	}
	return b, nil
}

func serve(ctx context.Context, cfg server.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogPretty)
	metrics := telemetry.NewMetrics(nil)
	if cfg.NotifyToken == "" {
		logger.Warn().Str("mode", cfg.RunMode).Msg("Notify endpoints accept unauthenticated requests; set notify_token.")
	}

	b, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	relay := hub.New(hub.Deps{
		Directory: b.directory,
		Users:     b.users,
		Presence:  b.presence,
		Logger:    logger,
		Metrics:   metrics,
	}, cfg.HubOptions())

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = ingest.Connect(cfg.NATSURL, "gochat-relay", logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn().Err(err).Msg("Error draining NATS connection.")
			}
		}()

		sub := ingest.NewSubscriber(nc, cfg.NATSSubjectPrefix, relay, logger)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()

		pub := ingest.NewPresencePublisher(nc, cfg.NATSSubjectPrefix, logger)
		go pub.Run(ctx, relay.Presence().Subscribe(ctx))
	}

	srv := server.New(cfg, relay, logger, metrics)
	httpServer := srv.HTTPServer()

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("mode", cfg.RunMode).Msg("Relay listening.")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal.")
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown error.")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("client shutdown: %w", err)
	}
	logger.Info().Msg("Relay stopped.")
	return nil
}
