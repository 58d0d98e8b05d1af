package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/importauto/leadline/internal/core/domain"
)

const leadEmbedColor = 0x2ECC71

// discordSender abstracts the discordgo session method we use.
type discordSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts lead summaries as embeds through the REST API. No gateway
// websocket is opened.
type Discord struct {
	sess    discordSender
	channel string
}

func NewDiscord(token, channel string) (*Discord, error) {
	if token == "" || channel == "" {
		return nil, errors.New("discord: token and channel are required")
	}
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	return &Discord{sess: sess, channel: channel}, nil
}

func (d *Discord) NotifyLead(ctx context.Context, lead domain.Lead) error {
	_, err := d.sess.ChannelMessageSendEmbed(d.channel, leadEmbed(lead), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: post lead: %w", err)
	}
	return nil
}

func leadEmbed(lead domain.Lead) *discordgo.MessageEmbed {
	title := lead.Name
	if title == "" {
		title = lead.Identifier
	}
	return &discordgo.MessageEmbed{
		Title: "New lead: " + title,
		Color: leadEmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Contact", Value: lead.Identifier, Inline: true},
			{Name: "Source", Value: lead.Source, Inline: true},
			{Name: "Car type", Value: lead.CarType},
			{Name: "Budget", Value: "up to $" + lead.Budget},
		},
	}
}
