package notify

import (
	"context"
	"errors"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/importauto/leadline/internal/core/domain"
)

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts lead summaries to one channel with a bot token.
type Slack struct {
	client  slackPoster
	channel string
}

func NewSlack(token, channel string) (*Slack, error) {
	if token == "" || channel == "" {
		return nil, errors.New("slack: token and channel are required")
	}
	return &Slack{client: slackapi.New(token), channel: channel}, nil
}

func (s *Slack) NotifyLead(ctx context.Context, lead domain.Lead) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slackapi.MsgOptionText(leadSummary(lead), false),
	)
	if err != nil {
		return fmt.Errorf("slack: post lead: %w", err)
	}
	return nil
}
