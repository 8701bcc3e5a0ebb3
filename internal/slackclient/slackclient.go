// Package slackclient wraps the Slack Web API for SlackPipe.
//
// It covers the OAuth v2 authorization exchange, token refresh, and the
// message operations used by the gateway. Every call normalizes the Slack
// response envelope into a typed result: a structured failure flag becomes an
// APIError carrying the remote error code, and network-level failures become
// a TransportError.
package slackclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/SlackPipe/internal/models"
)

// Default endpoints and client configuration
const (
	// DefaultBaseURL is the Slack Web API root.
	DefaultBaseURL = "https://slack.com/api"
	// DefaultAuthorizeURL is the Slack OAuth v2 authorization page.
	DefaultAuthorizeURL = "https://slack.com/oauth/v2/authorize"
	// DefaultScopes are the bot scopes requested during authorization.
	DefaultScopes = "chat:write,channels:read,channels:manage"
	// DefaultHTTPTimeout bounds every outbound Slack call.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultExpiresIn is assumed when Slack omits expires_in on a grant.
	DefaultExpiresIn = 3600
)

// Opts holds configuration options for the Slack client.
type Opts struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string
	HTTPClient   *http.Client
}

// Option defines a configuration option for the Slack client.
type Option func(*Opts)

// WithClientID sets the Slack app client id.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithClientSecret sets the Slack app client secret.
func WithClientSecret(secret string) Option {
	return func(o *Opts) { o.ClientSecret = secret }
}

// WithRedirectURI sets the OAuth redirect URI.
func WithRedirectURI(uri string) Option {
	return func(o *Opts) { o.RedirectURI = uri }
}

// WithBaseURL overrides the Slack Web API root. Used by tests.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = base }
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// APIError is a structured failure returned by the Slack API envelope.
// Its message is exactly the remote error code so callers can classify it.
type APIError struct {
	Code string
}

func (e *APIError) Error() string {
	return e.Code
}

// TransportError is a network-level failure (timeout, connection reset)
// reaching the Slack API.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("slack transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client issues form-encoded calls against the Slack Web API.
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	baseURL      string
	http         *http.Client
}

// NewClient creates a Slack client from options, falling back to the
// SLACK_CLIENT_ID, SLACK_CLIENT_SECRET and SLACK_REDIRECT_URI environment
// variables when options are not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("SLACK_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("SLACK_CLIENT_SECRET")
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = os.Getenv("SLACK_REDIRECT_URI")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	slog.Debug("Slack client config loaded",
		"clientID_set", cfg.ClientID != "",
		"clientSecret_set", cfg.ClientSecret != "",
		"redirectURI_set", cfg.RedirectURI != "")

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and client secret must be provided")
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		http:         cfg.HTTPClient,
	}, nil
}

// apiEnvelope is the common portion of every Slack Web API response.
type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// postForm issues a form-encoded POST to the named API method. When token is
// non-empty it is attached as a bearer credential. The response envelope is
// checked before out is populated.
func (c *Client) postForm(ctx context.Context, method string, token string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request for %s failed: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Client.postForm: transport failure", "method", method, "error", err)
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Client.postForm: reading response failed", "method", method, "error", err)
		return &TransportError{Err: err}
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Error("Client.postForm: malformed response envelope", "method", method, "error", err)
		return &TransportError{Err: fmt.Errorf("malformed response for %s: %w", method, err)}
	}
	if !env.OK {
		code := env.Error
		if code == "" {
			code = "slack_api_error"
		}
		slog.Warn("Client.postForm: API call rejected", "method", method, "code", code)
		return &APIError{Code: code}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &TransportError{Err: fmt.Errorf("decode response for %s: %w", method, err)}
		}
	}
	slog.Debug("Client.postForm: API call succeeded", "method", method)
	return nil
}

// OAuthGrant is the normalized result of an authorization exchange or a
// token refresh.
type OAuthGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	TeamID       string
	TeamName     string
	BotUserID    string
	AuthedUserID string
}

type oauthAccessResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	BotUserID    string `json:"bot_user_id"`
	Team         struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	AuthedUser struct {
		ID string `json:"id"`
	} `json:"authed_user"`
}

func (r *oauthAccessResponse) grant() *OAuthGrant {
	expiresIn := r.ExpiresIn
	if expiresIn == 0 {
		expiresIn = DefaultExpiresIn
	}
	return &OAuthGrant{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    expiresIn,
		TeamID:       r.Team.ID,
		TeamName:     r.Team.Name,
		BotUserID:    r.BotUserID,
		AuthedUserID: r.AuthedUser.ID,
	}
}

// AuthorizeURL builds the Slack OAuth v2 authorization redirect target.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("scope", DefaultScopes)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("state", state)
	return DefaultAuthorizeURL + "?" + q.Encode()
}

// ExchangeCode exchanges an authorization code for an OAuth grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*OAuthGrant, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", c.redirectURI)

	var resp oauthAccessResponse
	if err := c.postForm(ctx, "oauth.v2.access", "", form, &resp); err != nil {
		return nil, err
	}
	return resp.grant(), nil
}

// RefreshCredential exchanges a refresh token for a fresh OAuth grant. When
// Slack rotates refresh tokens the grant carries the replacement; otherwise
// the RefreshToken field is empty and the caller keeps the old one.
func (c *Client) RefreshCredential(ctx context.Context, refreshToken string) (*OAuthGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	var resp oauthAccessResponse
	if err := c.postForm(ctx, "oauth.v2.access", "", form, &resp); err != nil {
		return nil, err
	}
	return resp.grant(), nil
}

// PostedMessage is the normalized result of chat.postMessage.
type PostedMessage struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
}

// PostMessage sends text to a channel with the given bearer token.
func (c *Client) PostMessage(ctx context.Context, token, channelID, text string) (*PostedMessage, error) {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("text", text)

	var resp PostedMessage
	if err := c.postForm(ctx, "chat.postMessage", token, form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListChannels returns the public channels visible to the bot.
func (c *Client) ListChannels(ctx context.Context, token string) ([]models.Channel, error) {
	form := url.Values{}
	form.Set("types", "public_channel")

	var resp struct {
		Channels []models.Channel `json:"channels"`
	}
	if err := c.postForm(ctx, "conversations.list", token, form, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// Identity is the normalized result of auth.test.
type Identity struct {
	User   string `json:"user"`
	UserID string `json:"user_id"`
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
}

// AuthTest resolves the bot identity behind a bearer token.
func (c *Client) AuthTest(ctx context.Context, token string) (*Identity, error) {
	var resp Identity
	if err := c.postForm(ctx, "auth.test", token, url.Values{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InviteUsers invites the given user ids to a channel.
func (c *Client) InviteUsers(ctx context.Context, token, channelID string, userIDs ...string) error {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("users", strings.Join(userIDs, ","))
	return c.postForm(ctx, "conversations.invite", token, form, nil)
}
