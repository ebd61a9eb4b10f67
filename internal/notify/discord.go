package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts daily reports to a Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a Discord notifier from a bot token.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID, logger: logger}, nil
}

func (n *DiscordNotifier) Platform() string { return "discord" }

// Announce posts the report summary. Discord caps messages at 2000 runes.
func (n *DiscordNotifier) Announce(ctx context.Context, dayLabel, summary string) error {
	content := fmt.Sprintf("**World report %s**\n%s", dayLabel, summary)
	if runes := []rune(content); len(runes) > 2000 {
		content = string(runes[:1997]) + "..."
	}
	_, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord announce %s: %w", dayLabel, err)
	}
	n.logger.Info("report announced", zap.String("platform", "discord"), zap.String("day", dayLabel))
	return nil
}
