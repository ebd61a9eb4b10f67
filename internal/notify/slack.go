package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts daily reports to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a Slack notifier from a bot token (xoxb-...).
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (n *SlackNotifier) Platform() string { return "slack" }

// Announce posts the report summary to the configured channel.
func (n *SlackNotifier) Announce(ctx context.Context, dayLabel, summary string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fmt.Sprintf("*World report %s*\n%s", dayLabel, summary), false),
	)
	if err != nil {
		return fmt.Errorf("slack announce %s: %w", dayLabel, err)
	}
	n.logger.Info("report announced", zap.String("platform", "slack"), zap.String("day", dayLabel))
	return nil
}
