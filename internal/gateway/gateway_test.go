package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/SlackPipe/internal/models"
	"github.com/BTreeMap/SlackPipe/internal/slackclient"
	"github.com/BTreeMap/SlackPipe/internal/store"
	"github.com/BTreeMap/SlackPipe/internal/tokens"
)

// newTestGateway wires a gateway against an httptest Slack endpoint with one
// connected workspace.
func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := slackclient.NewClient(
		slackclient.WithClientID("test-id"),
		slackclient.WithClientSecret("test-secret"),
		slackclient.WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	st := store.NewInMemoryStore()
	err = st.UpsertCredential(models.Credential{
		WorkspaceID: "T001",
		AccessToken: "xoxb-token",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	return New(tokens.NewManager(st, client), client)
}

func TestSendMessageAttachesWorkspaceToken(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-token" {
			t.Errorf("workspace token not attached: %q", got)
		}
		w.Write([]byte(`{"ok": true, "channel": "C123", "ts": "1756500000.000100"}`))
	})

	posted, err := gw.SendMessage(context.Background(), "T001", "C123", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posted.Timestamp != "1756500000.000100" {
		t.Errorf("posted message not returned: %+v", posted)
	}
}

func TestSendMessageUnconnectedWorkspace(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no remote call expected for an unconnected workspace")
	})

	_, err := gw.SendMessage(context.Background(), "T404", "C123", "hello")
	if !errors.Is(err, tokens.ErrWorkspaceNotConnected) {
		t.Fatalf("expected ErrWorkspaceNotConnected, got %v", err)
	}
	if Classify(err) != KindWorkspaceNotConnected {
		t.Errorf("expected KindWorkspaceNotConnected, got %q", Classify(err))
	}
}

func TestBotInfoMapsIdentity(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth.test" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"ok": true, "user": "slackpipe", "user_id": "U111", "team": "Acme", "team_id": "T001"}`))
	})

	info, err := gw.BotInfo(context.Background(), "T001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.BotName != "slackpipe" || info.BotUserID != "U111" || info.TeamID != "T001" {
		t.Errorf("identity not mapped: %+v", info)
	}
}

func TestInviteBotResolvesOwnUserID(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth.test":
			w.Write([]byte(`{"ok": true, "user": "slackpipe", "user_id": "U111"}`))
		case "/conversations.invite":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.PostForm.Get("users") != "U111" {
				t.Errorf("expected bot user id in invite, got %q", r.PostForm.Get("users"))
			}
			w.Write([]byte(`{"ok": true}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	if err := gw.InviteBot(context.Background(), "T001", "C123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{tokens.ErrWorkspaceNotConnected, KindWorkspaceNotConnected},
		{&tokens.RefreshError{Code: "invalid_refresh_token"}, KindTokenRefreshFailed},
		{&slackclient.APIError{Code: "channel_not_found"}, KindRemoteRejected},
		{&slackclient.TransportError{Err: errors.New("connection refused")}, KindTransport},
		{errors.New("something else"), KindUnclassified},
		// Wrapped errors classify the same as bare ones.
		{fmt.Errorf("sending: %w", &slackclient.APIError{Code: "not_in_channel"}), KindRemoteRejected},
		// A refresh failure wrapping an API error is a refresh failure, not a
		// remote rejection.
		{&tokens.RefreshError{Code: "invalid_refresh_token", Err: &slackclient.APIError{Code: "invalid_refresh_token"}}, KindTokenRefreshFailed},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	if got := ErrorCode(&slackclient.APIError{Code: "channel_not_found"}); got != "channel_not_found" {
		t.Errorf("expected remote code, got %q", got)
	}
	if got := ErrorCode(&tokens.RefreshError{Code: "invalid_refresh_token"}); got != "invalid_refresh_token" {
		t.Errorf("expected refresh code, got %q", got)
	}
	if got := ErrorCode(tokens.ErrWorkspaceNotConnected); got != string(KindWorkspaceNotConnected) {
		t.Errorf("expected kind fallback, got %q", got)
	}
	if got := ErrorCode(&slackclient.TransportError{Err: errors.New("timeout")}); got != string(KindTransport) {
		t.Errorf("expected transport kind, got %q", got)
	}
}
