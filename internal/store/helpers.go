package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/SlackPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanCredentialRow scans a Credential from a single sql.Row.
func scanCredentialRow(row *sql.Row) (*models.Credential, error) {
	var c models.Credential
	var refreshToken, botUserID, authedUserID sql.NullString
	err := row.Scan(
		&c.WorkspaceID, &c.AccessToken, &refreshToken, &c.ExpiresAt,
		&botUserID, &authedUserID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.RefreshToken = refreshToken.String
	c.BotUserID = botUserID.String
	c.AuthedUserID = authedUserID.String
	return &c, nil
}

// scanScheduledMessage scans a ScheduledMessage from sql.Rows.
func scanScheduledMessage(rows *sql.Rows) (models.ScheduledMessage, error) {
	var m models.ScheduledMessage
	var status string
	var lastError sql.NullString
	err := rows.Scan(
		&m.ID, &m.WorkspaceID, &m.ChannelID, &m.Text, &m.SendAt,
		&status, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan scheduled message failed: %w", err)
	}
	m.Status = models.ScheduledStatus(status)
	m.LastError = lastError.String
	return m, nil
}

// scanScheduledMessageRow scans a ScheduledMessage from a single sql.Row.
func scanScheduledMessageRow(row *sql.Row) (*models.ScheduledMessage, error) {
	var m models.ScheduledMessage
	var status string
	var lastError sql.NullString
	err := row.Scan(
		&m.ID, &m.WorkspaceID, &m.ChannelID, &m.Text, &m.SendAt,
		&status, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = models.ScheduledStatus(status)
	m.LastError = lastError.String
	return &m, nil
}

// collectScheduledMessages drains rows into a slice.
func collectScheduledMessages(rows *sql.Rows) ([]models.ScheduledMessage, error) {
	var msgs []models.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduled message iteration failed: %w", err)
	}
	return msgs, nil
}
