package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient defines the subset of go-redis the presence store needs.
type redisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisPresenceStore persists presence records as one hash per user:
// `presence:{userId}` with fields `online` ("1"/"0") and `last_seen`
// (unix milliseconds).
type RedisPresenceStore struct {
	client redisClient
	logger zerolog.Logger
}

// NewRedisPresenceStore is the constructor for the RedisPresenceStore.
func NewRedisPresenceStore(client redisClient, logger zerolog.Logger) (*RedisPresenceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisPresenceStore{
		client: client,
		logger: logger.With().Str("component", "RedisPresenceStore").Logger(),
	}, nil
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

// UpdatePresence implements PresenceWriter.
func (s *RedisPresenceStore) UpdatePresence(ctx context.Context, rec PresenceRecord) error {
	online := "0"
	if rec.IsOnline {
		online = "1"
	}
	key := presenceKey(rec.UserID)
	err := s.client.HSet(ctx, key,
		"online", online,
		"last_seen", strconv.FormatInt(rec.LastSeenAt.UnixMilli(), 10),
	).Err()
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to hset presence.")
		return fmt.Errorf("failed to hset presence: %w", err)
	}
	return nil
}

// FetchPresence reads the last persisted record for userID.
func (s *RedisPresenceStore) FetchPresence(ctx context.Context, userID string) (PresenceRecord, error) {
	fields, err := s.client.HGetAll(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return PresenceRecord{}, ErrNotFound
	}
	if err != nil {
		return PresenceRecord{}, fmt.Errorf("failed to hgetall presence: %w", err)
	}

	rec := PresenceRecord{UserID: userID, IsOnline: fields["online"] == "1"}
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		rec.LastSeenAt = time.UnixMilli(ms).UTC()
	}
	return rec, nil
}
