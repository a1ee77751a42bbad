package provider

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/acteon-dev/acteon/internal/action"
)

// SlackProvider posts a formatted action summary to a Slack channel via
// the Slack Web API.
type SlackProvider struct {
	name    string
	channel string
	client  *slack.Client
}

func NewSlackProvider(name, botToken, channel string) *SlackProvider {
	return &SlackProvider{name: name, channel: channel, client: slack.New(botToken)}
}

func (s *SlackProvider) Name() string { return s.name }

// SupportsAttachments is true, so the gateway checks attachments resolve
// before Execute; Execute posts only a text summary and uploads no
// attachment bytes.
func (s *SlackProvider) SupportsAttachments() bool { return true }

func (s *SlackProvider) Execute(ctx context.Context, act *action.Action) (Result, error) {
	text := fmt.Sprintf(":large_blue_circle: *%s* dispatched for `%s/%s` (action `%s`)",
		act.Type, act.Namespace, act.Tenant, act.ID)

	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAttachments(slack.Attachment{
			Fields: []slack.AttachmentField{
				{Title: "Provider", Value: act.Provider, Short: true},
				{Title: "Action ID", Value: act.ID, Short: true},
			},
		}),
	)
	if err != nil {
		return Result{Retryable: true}, fmt.Errorf("slack post: %w", err)
	}
	return Result{Success: true}, nil
}

func (s *SlackProvider) HealthCheck(ctx context.Context) error {
	_, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	return nil
}
