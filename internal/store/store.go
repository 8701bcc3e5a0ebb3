// Package store provides storage backends for SlackPipe.
//
// It includes SQLite and PostgreSQL backed stores for workspace credentials
// and scheduled messages, plus an in-memory store for tests and ephemeral use.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SlackPipe/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures the store to use SQLite at the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures the store to use PostgreSQL with the given DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL style DSNs and "sqlite"
// otherwise (file paths are assumed to be SQLite databases).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// CredentialRepo defines persistence for workspace OAuth credentials.
// GetCredential returns nil with no error when the workspace is not connected.
type CredentialRepo interface {
	GetCredential(workspaceID string) (*models.Credential, error)
	UpsertCredential(c models.Credential) error
}

// ScheduledMessageRepo defines persistence for the scheduled message queue.
type ScheduledMessageRepo interface {
	// InsertScheduledMessage inserts a new pending message and returns its id.
	InsertScheduledMessage(m models.ScheduledMessage) (int64, error)

	// ListDueMessages returns up to limit pending messages whose send_at is at
	// or before now, earliest first.
	ListDueMessages(now time.Time, limit int) ([]models.ScheduledMessage, error)

	// ListActiveMessages returns pending and failed messages for a workspace,
	// earliest send_at first.
	ListActiveMessages(workspaceID string) ([]models.ScheduledMessage, error)

	// GetScheduledMessage retrieves a single message by id, or nil if absent.
	GetScheduledMessage(id int64) (*models.ScheduledMessage, error)

	// UpdateMessageStatus transitions a message from one status to another.
	// The update is conditional on the current status: it reports whether a
	// row actually matched and changed, which resolves the cancel-vs-deliver
	// race in favor of whichever write commits first.
	UpdateMessageStatus(id int64, from, to models.ScheduledStatus, lastError string) (bool, error)

	// CancelScheduledMessage cancels a pending message owned by the given
	// workspace. Returns false if the message is missing, owned by a
	// different workspace, or no longer pending.
	CancelScheduledMessage(id int64, workspaceID string) (bool, error)
}

// Store is the full persistence surface consumed by the API server.
type Store interface {
	CredentialRepo
	ScheduledMessageRepo
	Close() error
}

// New creates a store backend based on the provided options. A PostgreSQL DSN
// selects the Postgres store, any other DSN selects SQLite, and no DSN at all
// falls back to the in-memory store.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a mutex-guarded in-memory implementation of Store.
type InMemoryStore struct {
	mu          sync.Mutex
	credentials map[string]models.Credential
	messages    map[int64]models.ScheduledMessage
	nextID      int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[string]models.Credential),
		messages:    make(map[int64]models.ScheduledMessage),
	}
}

func (s *InMemoryStore) GetCredential(workspaceID string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[workspaceID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) UpsertCredential(c models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.credentials[c.WorkspaceID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.credentials[c.WorkspaceID] = c
	return nil
}

func (s *InMemoryStore) InsertScheduledMessage(m models.ScheduledMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now().UTC()
	m.ID = s.nextID
	m.Status = models.ScheduledStatusPending
	m.LastError = ""
	m.CreatedAt = now
	m.UpdatedAt = now
	s.messages[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ListDueMessages(now time.Time, limit int) ([]models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.ScheduledMessage
	for _, m := range s.messages {
		if m.Status == models.ScheduledStatusPending && !m.SendAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) ListActiveMessages(workspaceID string) ([]models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []models.ScheduledMessage
	for _, m := range s.messages {
		if m.WorkspaceID != workspaceID {
			continue
		}
		if m.Status == models.ScheduledStatusPending || m.Status == models.ScheduledStatusFailed {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].SendAt.Before(active[j].SendAt) })
	return active, nil
}

func (s *InMemoryStore) GetScheduledMessage(id int64) (*models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *InMemoryStore) UpdateMessageStatus(id int64, from, to models.ScheduledStatus, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	m.LastError = lastError
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return true, nil
}

func (s *InMemoryStore) CancelScheduledMessage(id int64, workspaceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.WorkspaceID != workspaceID || m.Status != models.ScheduledStatusPending {
		return false, nil
	}
	m.Status = models.ScheduledStatusCanceled
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
