// Package store provides storage backends for SlackPipe.
//
// This file implements the SQLite-backed store for credentials and scheduled
// messages.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SlackPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetCredential(workspaceID string) (*models.Credential, error) {
	row := s.db.QueryRow(
		`SELECT workspace_id, access_token, refresh_token, expires_at, bot_user_id, authed_user_id, created_at, updated_at
		 FROM oauth_credentials WHERE workspace_id = ?`,
		workspaceID,
	)
	c, err := scanCredentialRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.GetCredential: not found", "workspaceID", workspaceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetCredential failed", "error", err, "workspaceID", workspaceID)
		return nil, fmt.Errorf("get credential for %s failed: %w", workspaceID, err)
	}
	return c, nil
}

func (s *SQLiteStore) UpsertCredential(c models.Credential) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO oauth_credentials (workspace_id, access_token, refresh_token, expires_at, bot_user_id, authed_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   bot_user_id = excluded.bot_user_id,
		   authed_user_id = excluded.authed_user_id,
		   updated_at = excluded.updated_at`,
		c.WorkspaceID, c.AccessToken, nilIfEmpty(c.RefreshToken), c.ExpiresAt.UTC(),
		nilIfEmpty(c.BotUserID), nilIfEmpty(c.AuthedUserID), now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.UpsertCredential failed", "error", err, "workspaceID", c.WorkspaceID)
		return fmt.Errorf("upsert credential for %s failed: %w", c.WorkspaceID, err)
	}
	slog.Debug("SQLiteStore.UpsertCredential succeeded", "workspaceID", c.WorkspaceID)
	return nil
}

func (s *SQLiteStore) InsertScheduledMessage(m models.ScheduledMessage) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO scheduled_messages (workspace_id, channel_id, text, send_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		m.WorkspaceID, m.ChannelID, m.Text, m.SendAt.UTC(), now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.InsertScheduledMessage failed", "error", err, "workspaceID", m.WorkspaceID)
		return 0, fmt.Errorf("insert scheduled message failed: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert scheduled message id lookup failed: %w", err)
	}
	slog.Debug("SQLiteStore.InsertScheduledMessage succeeded", "id", id, "sendAt", m.SendAt)
	return id, nil
}

func (s *SQLiteStore) ListDueMessages(now time.Time, limit int) ([]models.ScheduledMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, channel_id, text, send_at, status, last_error, created_at, updated_at
		 FROM scheduled_messages
		 WHERE status = 'pending' AND send_at <= ?
		 ORDER BY send_at ASC LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due messages query failed: %w", err)
	}
	defer rows.Close()
	return collectScheduledMessages(rows)
}

func (s *SQLiteStore) ListActiveMessages(workspaceID string) ([]models.ScheduledMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, channel_id, text, send_at, status, last_error, created_at, updated_at
		 FROM scheduled_messages
		 WHERE workspace_id = ? AND status IN ('pending', 'failed')
		 ORDER BY send_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active messages query failed: %w", err)
	}
	defer rows.Close()
	return collectScheduledMessages(rows)
}

func (s *SQLiteStore) GetScheduledMessage(id int64) (*models.ScheduledMessage, error) {
	row := s.db.QueryRow(
		`SELECT id, workspace_id, channel_id, text, send_at, status, last_error, created_at, updated_at
		 FROM scheduled_messages WHERE id = ?`,
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

func (s *SQLiteStore) UpdateMessageStatus(id int64, from, to models.ScheduledStatus, lastError string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), nilIfEmpty(lastError), now, id, string(from),
	)
	if err != nil {
		slog.Error("SQLiteStore.UpdateMessageStatus failed", "error", err, "id", id, "from", from, "to", to)
		return false, fmt.Errorf("update message status failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update message status rows affected failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CancelScheduledMessage(id int64, workspaceID string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'canceled', updated_at = ?
		 WHERE id = ? AND workspace_id = ? AND status = 'pending'`,
		now, id, workspaceID,
	)
	if err != nil {
		slog.Error("SQLiteStore.CancelScheduledMessage failed", "error", err, "id", id, "workspaceID", workspaceID)
		return false, fmt.Errorf("cancel scheduled message failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel scheduled message rows affected failed: %w", err)
	}
	return n > 0, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
