// Package tokens implements the workspace credential lifecycle for SlackPipe.
//
// The Manager returns a currently valid access token for a workspace,
// transparently refreshing it against Slack near expiry and persisting the
// rotated credential. Expiry is checked lazily on each use rather than by a
// background refresher, so the manager self-heals after any gap in activity.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/SlackPipe/internal/models"
	"github.com/BTreeMap/SlackPipe/internal/slackclient"
	"github.com/BTreeMap/SlackPipe/internal/store"
)

// DefaultRefreshMargin is the safety margin before expiry at which a token is
// refreshed, so that a token cannot expire mid-call.
const DefaultRefreshMargin = 60 * time.Second

// ErrWorkspaceNotConnected indicates no credential is on file for the
// workspace. The caller should direct the user to reconnect.
var ErrWorkspaceNotConnected = errors.New("workspace_not_connected")

// RefreshError indicates the remote authorization server rejected a refresh
// exchange. Code carries the remote error code.
type RefreshError struct {
	Code string
	Err  error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %s", e.Code)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Refresher exchanges a refresh token for a fresh OAuth grant.
type Refresher interface {
	RefreshCredential(ctx context.Context, refreshToken string) (*slackclient.OAuthGrant, error)
}

// Opts holds configuration options for the Manager.
type Opts struct {
	RefreshMargin time.Duration
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithRefreshMargin overrides the pre-expiry refresh margin.
func WithRefreshMargin(d time.Duration) Option {
	return func(o *Opts) { o.RefreshMargin = d }
}

// Manager is the token lifecycle manager.
type Manager struct {
	repo      store.CredentialRepo
	refresher Refresher
	margin    time.Duration
	group     singleflight.Group
}

// NewManager creates a Manager backed by the given credential store and
// refresher.
func NewManager(repo store.CredentialRepo, refresher Refresher, opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	return &Manager{
		repo:      repo,
		refresher: refresher,
		margin:    cfg.RefreshMargin,
	}
}

// AccessToken returns a currently valid access token for the workspace.
//
// A credential without a refresh token is treated as non-expiring and its
// access token is returned as-is. Otherwise the stored token is returned
// while more than the refresh margin remains before expiry; inside the margin
// a refresh exchange is performed, the updated credential is persisted, and
// the new token is returned. Concurrent refreshes for the same workspace are
// coalesced so a single-use refresh token is not wasted.
func (m *Manager) AccessToken(ctx context.Context, workspaceID string) (string, error) {
	cred, err := m.repo.GetCredential(workspaceID)
	if err != nil {
		return "", fmt.Errorf("credential lookup for %s failed: %w", workspaceID, err)
	}
	if cred == nil {
		slog.Warn("Manager.AccessToken: no credential on file", "workspaceID", workspaceID)
		return "", ErrWorkspaceNotConnected
	}

	// Rotation disabled: the access token never expires.
	if cred.RefreshToken == "" {
		slog.Debug("Manager.AccessToken: rotation disabled, using stored token", "workspaceID", workspaceID)
		return cred.AccessToken, nil
	}

	if remaining := time.Until(cred.ExpiresAt); remaining > m.margin {
		slog.Debug("Manager.AccessToken: stored token still valid", "workspaceID", workspaceID, "remaining", remaining)
		return cred.AccessToken, nil
	}

	token, err, _ := m.group.Do(workspaceID, func() (interface{}, error) {
		return m.refresh(ctx, workspaceID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh performs the refresh exchange for one workspace. It re-reads the
// credential first: a caller that waited on the singleflight group may find
// the token already rotated.
func (m *Manager) refresh(ctx context.Context, workspaceID string) (string, error) {
	cred, err := m.repo.GetCredential(workspaceID)
	if err != nil {
		return "", fmt.Errorf("credential lookup for %s failed: %w", workspaceID, err)
	}
	if cred == nil {
		return "", ErrWorkspaceNotConnected
	}
	if cred.RefreshToken == "" {
		return cred.AccessToken, nil
	}
	if remaining := time.Until(cred.ExpiresAt); remaining > m.margin {
		slog.Debug("Manager.refresh: token already rotated by concurrent caller", "workspaceID", workspaceID)
		return cred.AccessToken, nil
	}

	slog.Info("Manager.refresh: refreshing token", "workspaceID", workspaceID, "expiresAt", cred.ExpiresAt)
	grant, err := m.refresher.RefreshCredential(ctx, cred.RefreshToken)
	if err != nil {
		var apiErr *slackclient.APIError
		if errors.As(err, &apiErr) {
			slog.Error("Manager.refresh: refresh rejected", "workspaceID", workspaceID, "code", apiErr.Code)
			return "", &RefreshError{Code: apiErr.Code, Err: err}
		}
		slog.Error("Manager.refresh: refresh exchange failed", "workspaceID", workspaceID, "error", err)
		return "", fmt.Errorf("refresh exchange for %s failed: %w", workspaceID, err)
	}

	// Some rotation policies are single-use, others are not: keep the old
	// refresh token when the server omits a replacement.
	newRefresh := grant.RefreshToken
	if newRefresh == "" {
		newRefresh = cred.RefreshToken
	}

	updated := models.Credential{
		WorkspaceID:  workspaceID,
		AccessToken:  grant.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(grant.ExpiresIn) * time.Second),
		BotUserID:    cred.BotUserID,
		AuthedUserID: cred.AuthedUserID,
	}
	if err := m.repo.UpsertCredential(updated); err != nil {
		return "", fmt.Errorf("persisting refreshed credential for %s failed: %w", workspaceID, err)
	}

	slog.Info("Manager.refresh: token refreshed", "workspaceID", workspaceID, "newExpiry", updated.ExpiresAt)
	return grant.AccessToken, nil
}
