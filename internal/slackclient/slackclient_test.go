package slackclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(
		WithClientID("test-client-id"),
		WithClientSecret("test-client-secret"),
		WithRedirectURI("https://example.com/auth/slack/callback"),
		WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("SLACK_CLIENT_ID", "")
	t.Setenv("SLACK_CLIENT_SECRET", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without client id and secret")
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	raw := c.AuthorizeURL("state_abc")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("authorize URL does not parse: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "test-client-id" {
		t.Errorf("client_id not carried: %q", q.Get("client_id"))
	}
	if q.Get("state") != "state_abc" {
		t.Errorf("state not carried: %q", q.Get("state"))
	}
	if q.Get("scope") != DefaultScopes {
		t.Errorf("scope not carried: %q", q.Get("scope"))
	}
}

func TestExchangeCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth.v2.access" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("code") != "auth-code-1" {
			t.Errorf("code not forwarded: %q", r.PostForm.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ok": true,
			"access_token": "xoxb-token",
			"refresh_token": "xoxe-refresh",
			"expires_in": 7200,
			"bot_user_id": "U111",
			"team": {"id": "T001", "name": "Acme"},
			"authed_user": {"id": "U999"}
		}`))
	})

	grant, err := c.ExchangeCode(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.AccessToken != "xoxb-token" || grant.RefreshToken != "xoxe-refresh" {
		t.Errorf("tokens not extracted: %+v", grant)
	}
	if grant.ExpiresIn != 7200 {
		t.Errorf("expires_in not extracted: %d", grant.ExpiresIn)
	}
	if grant.TeamID != "T001" || grant.BotUserID != "U111" || grant.AuthedUserID != "U999" {
		t.Errorf("identity fields not extracted: %+v", grant)
	}
}

func TestExchangeCodeDefaultsExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true, "access_token": "xoxb-token", "team": {"id": "T001"}}`))
	})
	grant, err := c.ExchangeCode(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.ExpiresIn != DefaultExpiresIn {
		t.Errorf("expected default expiry when omitted, got %d", grant.ExpiresIn)
	}
}

func TestRefreshCredentialSendsGrantType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type not set: %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "xoxe-old" {
			t.Errorf("refresh_token not forwarded: %q", r.PostForm.Get("refresh_token"))
		}
		w.Write([]byte(`{"ok": true, "access_token": "xoxb-new", "refresh_token": "xoxe-new", "expires_in": 3600}`))
	})

	grant, err := c.RefreshCredential(context.Background(), "xoxe-old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.AccessToken != "xoxb-new" || grant.RefreshToken != "xoxe-new" {
		t.Errorf("refreshed tokens not extracted: %+v", grant)
	}
}

func TestPostMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-token" {
			t.Errorf("bearer token not attached: %q", got)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Write([]byte(`{"ok": true, "channel": "C123", "ts": "1756500000.000100"}`))
	})

	posted, err := c.PostMessage(context.Background(), "xoxb-token", "C123", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posted.Channel != "C123" || posted.Timestamp != "1756500000.000100" {
		t.Errorf("posted message not extracted: %+v", posted)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	})

	_, err := c.PostMessage(context.Background(), "xoxb-token", "CBAD", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "channel_not_found" {
		t.Errorf("expected remote code, got %q", apiErr.Code)
	}
	if apiErr.Error() != "channel_not_found" {
		t.Errorf("expected error message to be the bare code, got %q", apiErr.Error())
	}
}

func TestAPIErrorDefaultsCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false}`))
	})

	_, err := c.AuthTest(context.Background(), "xoxb-token")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "slack_api_error" {
		t.Errorf("expected fallback code, got %q", apiErr.Code)
	}
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // force connection failures
	c, err := NewClient(
		WithClientID("test-client-id"),
		WithClientSecret("test-client-secret"),
		WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = c.PostMessage(context.Background(), "xoxb-token", "C123", "hello")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestTransportErrorOnMalformedEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway timeout</html>`))
	})

	_, err := c.PostMessage(context.Background(), "xoxb-token", "C123", "hello")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestListChannels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.list" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"ok": true, "channels": [{"id": "C1", "name": "general"}, {"id": "C2", "name": "random"}]}`))
	})

	channels, err := c.ListChannels(context.Background(), "xoxb-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 2 || channels[0].ID != "C1" || channels[1].Name != "random" {
		t.Errorf("channels not extracted: %+v", channels)
	}
}

func TestInviteUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.invite" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("users") != "U111,U222" {
			t.Errorf("users not joined: %q", r.PostForm.Get("users"))
		}
		w.Write([]byte(`{"ok": true}`))
	})

	if err := c.InviteUsers(context.Background(), "xoxb-token", "C123", "U111", "U222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
