package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Schema is the subset of the document store the relay reads. The write path
// owns these tables; the relay only updates the presence columns.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url   TEXT NOT NULL DEFAULT '',
	is_online    BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen    TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS groups (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	user_id  TEXT NOT NULL,
	PRIMARY KEY (group_id, user_id)
);
`

// PostgresStore reads conversations, groups and users from Postgres and
// persists presence transitions onto the users table.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenPostgres opens and pings a database handle using the lib/pq driver.
// The handle is traced by otelsql and its pool stats are reported as
// metrics on the global meter provider.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := otelsql.Open("postgres", dsn, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to register postgres metrics: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, logger zerolog.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres db cannot be nil")
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "PostgresStore").Logger(),
	}, nil
}

// Migrate creates the tables if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// FindConversationByID implements ConversationFinder.
func (s *PostgresStore) FindConversationByID(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, participant_a, participant_b FROM conversations WHERE id = $1", id,
	).Scan(&c.ID, &c.ParticipantIDs[0], &c.ParticipantIDs[1])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	return &c, nil
}

// FindGroupByID implements GroupFinder.
func (s *PostgresStore) FindGroupByID(ctx context.Context, id string) (*Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM groups WHERE id = $1", id).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of group %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		g.MemberIDs = append(g.MemberIDs, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read members of group %s: %w", id, err)
	}
	return &g, nil
}

// GetUsersByIDs implements UserLookup.
func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, display_name, avatar_url FROM users WHERE id = ANY($1)",
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdatePresence implements PresenceWriter. Users unknown to the table are
// logged and ignored.
func (s *PostgresStore) UpdatePresence(ctx context.Context, rec PresenceRecord) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1",
		rec.UserID, rec.IsOnline, rec.LastSeenAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to update presence for %s: %w", rec.UserID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug().Str("user", rec.UserID).Msg("Presence update matched no user row.")
	}
	return nil
}
