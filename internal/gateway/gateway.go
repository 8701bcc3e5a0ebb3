// Package gateway is the remote call boundary for SlackPipe.
//
// Every operation obtains a valid bearer token from the token manager,
// issues the remote call, and propagates typed failures unchanged. The
// gateway performs no retries; retry policy belongs to the caller, and the
// delivery scheduler deliberately has none.
package gateway

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/SlackPipe/internal/models"
	"github.com/BTreeMap/SlackPipe/internal/slackclient"
	"github.com/BTreeMap/SlackPipe/internal/tokens"
)

// Caller is the remote operation surface consumed by the API server and the
// delivery scheduler.
type Caller interface {
	// SendMessage posts text to a channel on behalf of a workspace.
	SendMessage(ctx context.Context, workspaceID, channelID, text string) (*slackclient.PostedMessage, error)

	// ListChannels lists the public channels visible to the workspace bot.
	ListChannels(ctx context.Context, workspaceID string) ([]models.Channel, error)

	// BotInfo resolves the bot identity for a workspace.
	BotInfo(ctx context.Context, workspaceID string) (*models.BotInfo, error)

	// InviteBot invites the workspace bot user into a channel.
	InviteBot(ctx context.Context, workspaceID, channelID string) error
}

// Gateway implements Caller against the Slack Web API.
type Gateway struct {
	tokens *tokens.Manager
	client *slackclient.Client
}

// Compile-time check that Gateway implements Caller.
var _ Caller = (*Gateway)(nil)

// New creates a Gateway from a token manager and a Slack client.
func New(manager *tokens.Manager, client *slackclient.Client) *Gateway {
	return &Gateway{tokens: manager, client: client}
}

func (g *Gateway) SendMessage(ctx context.Context, workspaceID, channelID, text string) (*slackclient.PostedMessage, error) {
	token, err := g.tokens.AccessToken(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	slog.Debug("Gateway.SendMessage: posting message", "workspaceID", workspaceID, "channelID", channelID)
	return g.client.PostMessage(ctx, token, channelID, text)
}

func (g *Gateway) ListChannels(ctx context.Context, workspaceID string) ([]models.Channel, error) {
	token, err := g.tokens.AccessToken(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return g.client.ListChannels(ctx, token)
}

func (g *Gateway) BotInfo(ctx context.Context, workspaceID string) (*models.BotInfo, error) {
	token, err := g.tokens.AccessToken(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	id, err := g.client.AuthTest(ctx, token)
	if err != nil {
		return nil, err
	}
	return &models.BotInfo{
		BotName:   id.User,
		BotUserID: id.UserID,
		TeamName:  id.Team,
		TeamID:    id.TeamID,
	}, nil
}

func (g *Gateway) InviteBot(ctx context.Context, workspaceID, channelID string) error {
	token, err := g.tokens.AccessToken(ctx, workspaceID)
	if err != nil {
		return err
	}
	id, err := g.client.AuthTest(ctx, token)
	if err != nil {
		return err
	}
	slog.Debug("Gateway.InviteBot: inviting bot user", "workspaceID", workspaceID, "channelID", channelID, "botUserID", id.UserID)
	return g.client.InviteUsers(ctx, token, channelID, id.UserID)
}
