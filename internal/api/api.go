// Package api provides HTTP handlers and the main API server logic for SlackPipe.
//
// It exposes RESTful endpoints for connecting a Slack workspace, sending and
// scheduling messages, and managing the scheduled message queue. The API
// integrates with the slackclient, tokens, gateway, scheduler, and store
// modules.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/SlackPipe/internal/gateway"
	"github.com/BTreeMap/SlackPipe/internal/models"
	"github.com/BTreeMap/SlackPipe/internal/scheduler"
	"github.com/BTreeMap/SlackPipe/internal/slackclient"
	"github.com/BTreeMap/SlackPipe/internal/store"
	"github.com/BTreeMap/SlackPipe/internal/tokens"
)

// Default server configuration
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultOAuthStateTTL bounds how long an issued OAuth state value stays valid.
	DefaultOAuthStateTTL = 10 * time.Minute
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	FrontendOrigin string
	PollInterval   time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFrontendOrigin sets the frontend origin used for post-OAuth redirects.
func WithFrontendOrigin(origin string) Option {
	return func(o *Opts) { o.FrontendOrigin = origin }
}

// WithPollInterval sets the delivery scheduler poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// Server carries the dependencies shared by all HTTP handlers.
type Server struct {
	store          store.Store
	gw             gateway.Caller
	slack          *slackclient.Client
	frontendOrigin string
	states         *stateRegistry
}

// NewServer creates a Server over the given store, gateway and Slack client.
func NewServer(st store.Store, gw gateway.Caller, slack *slackclient.Client, frontendOrigin string) *Server {
	return &Server{
		store:          st,
		gw:             gw,
		slack:          slack,
		frontendOrigin: frontendOrigin,
		states:         newStateRegistry(DefaultOAuthStateTTL),
	}
}

// routes registers all handlers on a fresh mux, wrapped in the CORS layer.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/auth/slack/start", s.oauthStartHandler)
	mux.HandleFunc("/auth/slack/callback", s.oauthCallbackHandler)
	mux.HandleFunc("/channels", s.channelsHandler)
	mux.HandleFunc("/messages/send", s.sendHandler)
	mux.HandleFunc("/messages/bot-info", s.botInfoHandler)
	mux.HandleFunc("/messages/invite", s.inviteHandler)
	mux.HandleFunc("/messages/schedule", s.scheduleHandler)
	mux.HandleFunc("/messages/scheduled", s.scheduledListHandler)
	mux.HandleFunc("/messages/scheduled/", s.scheduledItemHandler)
	return s.withCORS(mux)
}

// withCORS allows the configured frontend origin to call the API from the
// browser, including credentialed requests, and answers preflights. With no
// frontend origin configured the handler passes requests through untouched.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.frontendOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.frontendOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run wires up all modules and serves the API until the listener fails.
// The delivery scheduler runs for the lifetime of the server.
func Run(storeOpts []store.Option, slackOpts []slackclient.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	st, err := store.New(storeOpts...)
	if err != nil {
		return err
	}
	defer st.Close()

	slack, err := slackclient.NewClient(slackOpts...)
	if err != nil {
		return err
	}

	manager := tokens.NewManager(st, slack)
	gw := gateway.New(manager, slack)

	sched := scheduler.NewDeliveryScheduler(st, deliverVia(gw), cfg.PollInterval)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := NewServer(st, gw, slack, cfg.FrontendOrigin)
	slog.Info("SlackPipe API running", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, srv.routes())
}

// deliverVia adapts the gateway's send operation to the scheduler's deliver
// callback.
func deliverVia(gw gateway.Caller) scheduler.DeliverFunc {
	return func(ctx context.Context, msg models.ScheduledMessage) error {
		_, err := gw.SendMessage(ctx, msg.WorkspaceID, msg.ChannelID, msg.Text)
		return err
	}
}

// stateRegistry tracks issued OAuth state values with a TTL so the callback
// can reject forged or replayed authorization redirects.
type stateRegistry struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
}

func newStateRegistry(ttl time.Duration) *stateRegistry {
	return &stateRegistry{
		states: make(map[string]time.Time),
		ttl:    ttl,
	}
}

func (r *stateRegistry) issue(token string) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, expiry := range r.states {
		if expiry.Before(now) {
			delete(r.states, t)
		}
	}
	r.states[token] = now.Add(r.ttl)
}

// consume reports whether the token was issued and unexpired, removing it
// either way so a state value is single-use.
func (r *stateRegistry) consume(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.states[token]
	delete(r.states, token)
	return ok && expiry.After(time.Now())
}
