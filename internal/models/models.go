// Package models defines the core data structures for SlackPipe.
//
// It includes types for workspace credentials, scheduled messages, and the
// request/response payloads shared across modules.
package models

import (
	"errors"
	"time"
)

// ScheduledStatus represents the lifecycle state of a scheduled message.
type ScheduledStatus string

const (
	// ScheduledStatusPending indicates the message is waiting for delivery.
	ScheduledStatusPending ScheduledStatus = "pending"
	// ScheduledStatusSent indicates the message was delivered. Terminal.
	ScheduledStatusSent ScheduledStatus = "sent"
	// ScheduledStatusCanceled indicates the message was canceled before delivery. Terminal.
	ScheduledStatusCanceled ScheduledStatus = "canceled"
	// ScheduledStatusFailed indicates a delivery attempt failed. No automatic retry.
	ScheduledStatusFailed ScheduledStatus = "failed"
)

// Validation constants for input validation
const (
	// MaxMessageTextLength caps message text. chat.postMessage truncates
	// messages past roughly 4000 characters, so longer text would be
	// accepted here only to be mangled at delivery.
	MaxMessageTextLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrMissingWorkspaceID = errors.New("workspace id is required")
	ErrMissingChannelID   = errors.New("channel id is required")
	ErrMissingText        = errors.New("message text is required")
	ErrTextTooLong        = errors.New("message text exceeds maximum length")
	ErrMissingSendAt      = errors.New("send time is required")
	ErrInvalidDatetime    = errors.New("send time does not parse as RFC 3339")
)

// IsValidScheduledStatus checks if the given status is supported.
func IsValidScheduledStatus(s ScheduledStatus) bool {
	switch s {
	case ScheduledStatusPending, ScheduledStatusSent, ScheduledStatusCanceled, ScheduledStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminalScheduledStatus reports whether no further transition is permitted
// from the given status.
func IsTerminalScheduledStatus(s ScheduledStatus) bool {
	return s == ScheduledStatusSent || s == ScheduledStatusCanceled
}

// Credential holds the OAuth tokens for one Slack workspace. There is at most
// one Credential per workspace id; writes are upserts keyed by workspace id.
type Credential struct {
	WorkspaceID  string    `json:"workspace_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"` // empty means token rotation is disabled
	ExpiresAt    time.Time `json:"expires_at"`
	BotUserID    string    `json:"bot_user_id,omitempty"`
	AuthedUserID string    `json:"authed_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScheduledMessage represents one requested future delivery.
type ScheduledMessage struct {
	ID          int64           `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	ChannelID   string          `json:"channel_id"`
	Text        string          `json:"text"`
	SendAt      time.Time       `json:"send_at"`
	Status      ScheduledStatus `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Channel is the lightweight channel shape returned by the listing endpoint.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BotInfo describes the bot identity for a connected workspace.
type BotInfo struct {
	BotName   string `json:"bot_name"`
	BotUserID string `json:"bot_id"`
	TeamName  string `json:"team_name"`
	TeamID    string `json:"team_id"`
}

// SendRequest is the payload for an immediate send.
type SendRequest struct {
	WorkspaceID string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	Text        string `json:"text"`
}

// Validate performs validation on a SendRequest.
func (r *SendRequest) Validate() error {
	if r.WorkspaceID == "" {
		return ErrMissingWorkspaceID
	}
	if r.ChannelID == "" {
		return ErrMissingChannelID
	}
	if r.Text == "" {
		return ErrMissingText
	}
	if len(r.Text) > MaxMessageTextLength {
		return ErrTextTooLong
	}
	return nil
}

// ScheduleRequest is the payload for scheduling a one-shot future send.
// SendAt is an RFC 3339 instant supplied by the client; the server normalizes
// it to UTC.
type ScheduleRequest struct {
	WorkspaceID string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	Text        string `json:"text"`
	SendAt      string `json:"send_at"`
}

// Validate performs validation on a ScheduleRequest and returns the parsed
// UTC send instant.
func (r *ScheduleRequest) Validate() (time.Time, error) {
	send := SendRequest{WorkspaceID: r.WorkspaceID, ChannelID: r.ChannelID, Text: r.Text}
	if err := send.Validate(); err != nil {
		return time.Time{}, err
	}
	if r.SendAt == "" {
		return time.Time{}, ErrMissingSendAt
	}
	sendAt, err := time.Parse(time.RFC3339, r.SendAt)
	if err != nil {
		return time.Time{}, ErrInvalidDatetime
	}
	return sendAt.UTC(), nil
}

// InviteRequest is the payload for inviting the bot user to a channel.
type InviteRequest struct {
	WorkspaceID string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
}

// Validate performs validation on an InviteRequest.
func (r *InviteRequest) Validate() error {
	if r.WorkspaceID == "" {
		return ErrMissingWorkspaceID
	}
	if r.ChannelID == "" {
		return ErrMissingChannelID
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusScheduled indicates an API request resulted in scheduled content.
	APIStatusScheduled APIStatus = "scheduled"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Scheduled creates a scheduled API response carrying the created row id.
func Scheduled(id int64) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusScheduled).
		WithResult(map[string]int64{"id": id}).
		Build()
}
