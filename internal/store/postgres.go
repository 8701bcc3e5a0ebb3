// Package store provides storage backends for SlackPipe.
//
// This file implements the PostgreSQL-backed store for credentials and
// scheduled messages.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SlackPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetCredential(workspaceID string) (*models.Credential, error) {
	row := s.db.QueryRow(
		`SELECT workspace_id, access_token, refresh_token, expires_at, bot_user_id, authed_user_id, created_at, updated_at
		 FROM oauth_credentials WHERE workspace_id = $1`,
		workspaceID,
	)
	c, err := scanCredentialRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetCredential: not found", "workspaceID", workspaceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetCredential failed", "error", err, "workspaceID", workspaceID)
		return nil, fmt.Errorf("get credential for %s failed: %w", workspaceID, err)
	}
	return c, nil
}

func (s *PostgresStore) UpsertCredential(c models.Credential) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO oauth_credentials (workspace_id, access_token, refresh_token, expires_at, bot_user_id, authed_user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (workspace_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   bot_user_id = EXCLUDED.bot_user_id,
		   authed_user_id = EXCLUDED.authed_user_id,
		   updated_at = EXCLUDED.updated_at`,
		c.WorkspaceID, c.AccessToken, nilIfEmpty(c.RefreshToken), c.ExpiresAt.UTC(),
		nilIfEmpty(c.BotUserID), nilIfEmpty(c.AuthedUserID), now, now,
	)
	if err != nil {
		slog.Error("PostgresStore.UpsertCredential failed", "error", err, "workspaceID", c.WorkspaceID)
		return fmt.Errorf("upsert credential for %s failed: %w", c.WorkspaceID, err)
	}
	slog.Debug("PostgresStore.UpsertCredential succeeded", "workspaceID", c.WorkspaceID)
	return nil
}

func (s *PostgresStore) InsertScheduledMessage(m models.ScheduledMessage) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO scheduled_messages (workspace_id, channel_id, text, send_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6) RETURNING id`,
		m.WorkspaceID, m.ChannelID, m.Text, m.SendAt.UTC(), now, now,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore.InsertScheduledMessage failed", "error", err, "workspaceID", m.WorkspaceID)
		return 0, fmt.Errorf("insert scheduled message failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertScheduledMessage succeeded", "id", id, "sendAt", m.SendAt)
	return id, nil
}

func (s *PostgresStore) ListDueMessages(now time.Time, limit int) ([]models.ScheduledMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, channel_id, text, send_at, status, last_error, created_at, updated_at
		 FROM scheduled_messages
		 WHERE status = 'pending' AND send_at <= $1
		 ORDER BY send_at ASC LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due messages query failed: %w", err)
	}
	defer rows.Close()
	return collectScheduledMessages(rows)
}

func (s *PostgresStore) ListActiveMessages(workspaceID string) ([]models.ScheduledMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, channel_id, text, send_at, status, last_error, created_at, updated_at
		 FROM scheduled_messages
		 WHERE workspace_id = $1 AND status IN ('pending', 'failed')
		 ORDER BY send_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active messages query failed: %w", err)
	}
	defer rows.Close()
	return collectScheduledMessages(rows)
}

func (s *PostgresStore) GetScheduledMessage(id int64) (*models.ScheduledMessage, error) {
	row := s.db.QueryRow(
		`SELECT id, workspace_id, channel_id, text, send_at, status, last_error, created_at, updated_at
		 FROM scheduled_messages WHERE id = $1`,
		id,
	)
	m, err := scanScheduledMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled message %d failed: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMessageStatus(id int64, from, to models.ScheduledStatus, lastError string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(to), nilIfEmpty(lastError), now, id, string(from),
	)
	if err != nil {
		slog.Error("PostgresStore.UpdateMessageStatus failed", "error", err, "id", id, "from", from, "to", to)
		return false, fmt.Errorf("update message status failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update message status rows affected failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) CancelScheduledMessage(id int64, workspaceID string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'canceled', updated_at = $1
		 WHERE id = $2 AND workspace_id = $3 AND status = 'pending'`,
		now, id, workspaceID,
	)
	if err != nil {
		slog.Error("PostgresStore.CancelScheduledMessage failed", "error", err, "id", id, "workspaceID", workspaceID)
		return false, fmt.Errorf("cancel scheduled message failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel scheduled message rows affected failed: %w", err)
	}
	return n > 0, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
