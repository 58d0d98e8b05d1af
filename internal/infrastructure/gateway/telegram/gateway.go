// Package telegram sends outbound messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

// Gateway implements ports.Gateway with a tgbotapi client.
type Gateway struct {
	bot *tgbotapi.BotAPI
}

var _ ports.Gateway = (*Gateway)(nil)

// NewGateway authenticates the bot token against endpoint, a tgbotapi format
// string such as tgbotapi.APIEndpoint.
func NewGateway(token, endpoint string, client *http.Client) (*Gateway, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Gateway{bot: bot}, nil
}

func (g *Gateway) SendText(ctx context.Context, to, text string) error {
	chatID, err := parseChatID(to)
	if err != nil {
		return err
	}
	return g.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (g *Gateway) SendVoice(ctx context.Context, to, mediaRef string) error {
	chatID, err := parseChatID(to)
	if err != nil {
		return err
	}
	return g.send(ctx, tgbotapi.NewVoice(chatID, tgbotapi.FileID(mediaRef)))
}

// SendFlow degrades to a plain text prompt; Telegram has no interactive forms.
func (g *Gateway) SendFlow(ctx context.Context, to string, prompt domain.FlowPrompt) error {
	chatID, err := parseChatID(to)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(prompt.Header + "\n\n" + prompt.Body)
	return g.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// send honours ctx only before the call; tgbotapi requests carry no context.
func (g *Gateway) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)
	}
	if _, err := g.bot.Send(c); err != nil {
		return fmt.Errorf("%w: telegram: %v", domain.ErrDispatchFailed, err)
	}
	return nil
}

func parseChatID(to string) (int64, error) {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad chat id %q", domain.ErrDispatchFailed, to)
	}
	return id, nil
}
