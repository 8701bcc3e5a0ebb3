// Package api provides HTTP handlers for SlackPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SlackPipe/internal/gateway"
	"github.com/BTreeMap/SlackPipe/internal/models"
	"github.com/BTreeMap/SlackPipe/internal/util"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// oauthStartHandler redirects the user to Slack's authorization page with a
// freshly issued state value.
func (s *Server) oauthStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := util.GenerateStateToken()
	s.states.issue(state)
	slog.Debug("Server.oauthStartHandler: redirecting to Slack authorize", "state", state)
	http.Redirect(w, r, s.slack.AuthorizeURL(state), http.StatusFound)
}

// oauthCallbackHandler exchanges the authorization code for tokens and
// persists the workspace credential.
func (s *Server) oauthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("Server.oauthCallbackHandler: missing code")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing code"))
		return
	}
	if state := r.URL.Query().Get("state"); !s.states.consume(state) {
		slog.Warn("Server.oauthCallbackHandler: invalid or expired state")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid or expired state"))
		return
	}

	grant, err := s.slack.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Error("Server.oauthCallbackHandler: code exchange failed", "error", err)
		s.writeRemoteError(w, err)
		return
	}

	cred := models.Credential{
		WorkspaceID:  grant.TeamID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(grant.ExpiresIn) * time.Second),
		BotUserID:    grant.BotUserID,
		AuthedUserID: grant.AuthedUserID,
	}
	if err := s.store.UpsertCredential(cred); err != nil {
		slog.Error("Server.oauthCallbackHandler: failed to persist credential", "error", err, "workspaceID", grant.TeamID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store workspace credential"))
		return
	}

	slog.Info("Server.oauthCallbackHandler: workspace connected", "workspaceID", grant.TeamID)
	http.Redirect(w, r, s.frontendOrigin+"/connected?team_id="+url.QueryEscape(grant.TeamID), http.StatusFound)
}

// channelsHandler lists the public channels visible to the workspace bot.
func (s *Server) channelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workspaceID := r.URL.Query().Get("team_id")
	if workspaceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing team_id"))
		return
	}

	channels, err := s.gw.ListChannels(r.Context(), workspaceID)
	if err != nil {
		slog.Error("Server.channelsHandler: listing channels failed", "error", err, "workspaceID", workspaceID)
		s.writeRemoteError(w, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"channels": channels}))
}

// sendHandler performs an immediate send, surfacing every failure
// synchronously to the caller.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.sendHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationCode(err)))
		return
	}

	posted, err := s.gw.SendMessage(r.Context(), req.WorkspaceID, req.ChannelID, req.Text)
	if err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "workspaceID", req.WorkspaceID, "channelID", req.ChannelID)
		s.writeRemoteError(w, err)
		return
	}

	slog.Info("Server.sendHandler: message sent", "workspaceID", req.WorkspaceID, "channelID", posted.Channel, "ts", posted.Timestamp)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"ts":      posted.Timestamp,
		"channel": posted.Channel,
	}))
}

// botInfoHandler resolves the bot identity for a connected workspace.
func (s *Server) botInfoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workspaceID := r.URL.Query().Get("team_id")
	if workspaceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing team_id"))
		return
	}

	info, err := s.gw.BotInfo(r.Context(), workspaceID)
	if err != nil {
		slog.Error("Server.botInfoHandler: failed to get bot info", "error", err, "workspaceID", workspaceID)
		s.writeRemoteError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(info))
}

// inviteHandler invites the workspace bot user into a channel.
func (s *Server) inviteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationCode(err)))
		return
	}

	if err := s.gw.InviteBot(r.Context(), req.WorkspaceID, req.ChannelID); err != nil {
		slog.Error("Server.inviteHandler: failed to invite bot", "error", err, "workspaceID", req.WorkspaceID, "channelID", req.ChannelID)
		s.writeRemoteError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Bot invited to channel successfully", nil))
}

// scheduleHandler validates a schedule request and inserts a pending row.
// Delivery is the scheduler's job; this handler never talks to Slack.
func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.scheduleHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sendAt, err := req.Validate()
	if err != nil {
		slog.Warn("Server.scheduleHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationCode(err)))
		return
	}

	id, err := s.store.InsertScheduledMessage(models.ScheduledMessage{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		Text:        req.Text,
		SendAt:      sendAt,
	})
	if err != nil {
		slog.Error("Server.scheduleHandler: failed to insert scheduled message", "error", err, "workspaceID", req.WorkspaceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule message"))
		return
	}

	slog.Info("Server.scheduleHandler: message scheduled", "id", id, "workspaceID", req.WorkspaceID, "sendAt", sendAt)
	writeJSONResponse(w, http.StatusOK, models.Scheduled(id))
}

// scheduledListHandler returns the pending and failed rows for a workspace,
// earliest first, so the user can inspect and cancel them.
func (s *Server) scheduledListHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workspaceID := r.URL.Query().Get("team_id")
	if workspaceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing team_id"))
		return
	}

	items, err := s.store.ListActiveMessages(workspaceID)
	if err != nil {
		slog.Error("Server.scheduledListHandler: listing failed", "error", err, "workspaceID", workspaceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list scheduled messages"))
		return
	}
	if items == nil {
		items = []models.ScheduledMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"items": items}))
}

// scheduledItemHandler handles DELETE /messages/scheduled/{id}. The cancel is
// a conditional pending-only write: if the scheduler's terminal update lands
// first the cancel reports false and has no effect.
func (s *Server) scheduledItemHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/messages/scheduled/")
	if path == "" || strings.Contains(path, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown scheduled message endpoint"))
		return
	}
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil || id <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid scheduled message id"))
		return
	}
	workspaceID := r.URL.Query().Get("team_id")
	if workspaceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing team_id"))
		return
	}

	canceled, err := s.store.CancelScheduledMessage(id, workspaceID)
	if err != nil {
		slog.Error("Server.scheduledItemHandler: cancel failed", "error", err, "id", id, "workspaceID", workspaceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel scheduled message"))
		return
	}

	slog.Info("Server.scheduledItemHandler: cancel processed", "id", id, "workspaceID", workspaceID, "canceled", canceled)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"canceled": canceled}))
}

// validationCode maps request validation failures onto the wire error codes.
func validationCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidDatetime):
		return "invalid_datetime"
	case errors.Is(err, models.ErrTextTooLong):
		return "text_too_long"
	default:
		return "missing_fields"
	}
}

// writeRemoteError maps a remote call failure onto a status code and a
// user-facing message. Known remote error codes get specific guidance; an
// unrecognized code falls back to the raw code.
func (s *Server) writeRemoteError(w http.ResponseWriter, err error) {
	switch gateway.Classify(err) {
	case gateway.KindWorkspaceNotConnected:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Workspace not connected. Please reconnect to Slack."))
	case gateway.KindTokenRefreshFailed:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Workspace authorization expired. Please reconnect to Slack."))
	case gateway.KindRemoteRejected:
		switch code := gateway.ErrorCode(err); code {
		case "channel_not_found":
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Channel not found or bot not added to channel."))
		case "not_in_channel":
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Bot is not in this channel. Invite the bot first via /messages/invite or with /invite in Slack."))
		case "already_in_channel":
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Bot is already in this channel."))
		case "missing_scope":
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Bot doesn't have permission for this operation. Re-install the app with the required scopes."))
		default:
			writeJSONResponse(w, http.StatusInternalServerError, models.Error(code))
		}
	case gateway.KindTransport:
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Could not reach Slack. Please try again."))
	default:
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
	}
}
