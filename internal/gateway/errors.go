package gateway

import (
	"errors"

	"github.com/BTreeMap/SlackPipe/internal/slackclient"
	"github.com/BTreeMap/SlackPipe/internal/tokens"
)

// ErrorKind is the closed classification of remote call failures. Callers
// switch on the kind rather than on error message content.
type ErrorKind string

const (
	// KindWorkspaceNotConnected means no credential is on file.
	KindWorkspaceNotConnected ErrorKind = "workspace_not_connected"
	// KindTokenRefreshFailed means the authorization server rejected a refresh.
	KindTokenRefreshFailed ErrorKind = "token_refresh_failed"
	// KindRemoteRejected means the remote operation returned a structured error code.
	KindRemoteRejected ErrorKind = "remote_rejected"
	// KindTransport means a network-level failure reaching the remote system.
	KindTransport ErrorKind = "transport_failure"
	// KindUnclassified is the fallback for errors of unknown origin.
	KindUnclassified ErrorKind = "unclassified"
)

// Classify maps a remote call failure onto its ErrorKind.
func Classify(err error) ErrorKind {
	if errors.Is(err, tokens.ErrWorkspaceNotConnected) {
		return KindWorkspaceNotConnected
	}
	var refreshErr *tokens.RefreshError
	if errors.As(err, &refreshErr) {
		return KindTokenRefreshFailed
	}
	var apiErr *slackclient.APIError
	if errors.As(err, &apiErr) {
		return KindRemoteRejected
	}
	var transportErr *slackclient.TransportError
	if errors.As(err, &transportErr) {
		return KindTransport
	}
	return KindUnclassified
}

// ErrorCode extracts the remote error code from a failure. For remote
// rejections this is the structured code (e.g. "channel_not_found"); for
// refresh failures it is the authorization server's code; otherwise the kind
// itself is returned as a generic code.
func ErrorCode(err error) string {
	var apiErr *slackclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var refreshErr *tokens.RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr.Code
	}
	return string(Classify(err))
}
