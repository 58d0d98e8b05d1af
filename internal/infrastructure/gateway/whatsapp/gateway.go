// Package whatsapp sends outbound messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

const flowMessageVersion = "3"

// Config holds the Cloud API credentials.
type Config struct {
	Token         string
	PhoneNumberID string
	APIBase       string
}

// Gateway implements ports.Gateway against the Graph API messages endpoint.
type Gateway struct {
	cfg    Config
	client *http.Client
}

var _ ports.Gateway = (*Gateway)(nil)

func NewGateway(cfg Config, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Gateway{cfg: cfg, client: client}
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type mediaBody struct {
	ID string `json:"id"`
}

type interactiveText struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

type flowParameters struct {
	FlowMessageVersion string         `json:"flow_message_version"`
	FlowToken          string         `json:"flow_token"`
	FlowID             string         `json:"flow_id"`
	FlowCTA            string         `json:"flow_cta"`
	FlowAction         string         `json:"flow_action"`
	FlowActionPayload  map[string]any `json:"flow_action_payload,omitempty"`
}

type interactiveAction struct {
	Name       string         `json:"name"`
	Parameters flowParameters `json:"parameters"`
}

type interactiveBody struct {
	Type   string            `json:"type"`
	Header *interactiveText  `json:"header,omitempty"`
	Body   interactiveText   `json:"body"`
	Action interactiveAction `json:"action"`
}

type outboundMessage struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textBody        `json:"text,omitempty"`
	Audio            *mediaBody       `json:"audio,omitempty"`
	Interactive      *interactiveBody `json:"interactive,omitempty"`
}

func newOutbound(to, kind string) outboundMessage {
	return outboundMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: kind}
}

func (g *Gateway) SendText(ctx context.Context, to, text string) error {
	msg := newOutbound(to, "text")
	msg.Text = &textBody{Body: text}
	return g.post(ctx, msg)
}

func (g *Gateway) SendVoice(ctx context.Context, to, mediaRef string) error {
	msg := newOutbound(to, "audio")
	msg.Audio = &mediaBody{ID: mediaRef}
	return g.post(ctx, msg)
}

func (g *Gateway) SendFlow(ctx context.Context, to string, prompt domain.FlowPrompt) error {
	msg := newOutbound(to, "interactive")
	body := &interactiveBody{
		Type: "flow",
		Body: interactiveText{Text: prompt.Body},
		Action: interactiveAction{
			Name: "flow",
			Parameters: flowParameters{
				FlowMessageVersion: flowMessageVersion,
				FlowToken:          prompt.Token,
				FlowID:             prompt.FlowID,
				FlowCTA:            prompt.CTA,
				FlowAction:         "navigate",
				FlowActionPayload:  map[string]any{"screen": prompt.Screen},
			},
		},
	}
	if prompt.Header != "" {
		body.Header = &interactiveText{Type: "text", Text: prompt.Header}
	}
	msg.Interactive = body
	return g.post(ctx, msg)
}

func (g *Gateway) post(ctx context.Context, msg outboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", domain.ErrDispatchFailed, err)
	}
	url := fmt.Sprintf("%s/%s/messages", g.cfg.APIBase, g.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrDispatchFailed, msg.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrDispatchFailed, msg.Type, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
