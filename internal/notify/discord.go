package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

type Announcer interface {
	Announce(ctx context.Context, message string) error
}

// DiscordAnnouncer posts to a single channel over the REST API. It never
// opens a gateway connection.
type DiscordAnnouncer struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordAnnouncer(token, channelID string) (*DiscordAnnouncer, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordAnnouncer{session: session, channelID: channelID}, nil
}

func (d *DiscordAnnouncer) Announce(ctx context.Context, message string) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
