package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/security"
)

const (
	platformWhatsApp = "whatsapp"
	platformTelegram = "telegram"
)

// payloadKind is the structural class of a POST /webhook body.
type payloadKind string

const (
	kindEncrypted payloadKind = "encrypted_form"
	kindPing      payloadKind = "ping"
	kindWhatsApp  payloadKind = "whatsapp"
	kindTelegram  payloadKind = "telegram"
)

// webhookPayload is a classified webhook body. Only the fields for its kind
// are set.
type webhookPayload struct {
	kind     payloadKind
	flow     security.EncryptedFlowRequest
	messages []domain.InboundMessage
	// skipped counts envelope entries that carry nothing the bot handles,
	// such as delivery receipts or image messages.
	skipped int
}

// webhookProbe holds the top-level keys that tell the payload kinds apart.
type webhookProbe struct {
	EncryptedAESKey   *string         `json:"encrypted_aes_key"`
	InitialVector     *string         `json:"initial_vector"`
	EncryptedFlowData *string         `json:"encrypted_flow_data"`
	Action            string          `json:"action"`
	Object            string          `json:"object"`
	Entry             json.RawMessage `json:"entry"`
	UpdateID          *int            `json:"update_id"`
}

// WhatsApp Cloud API change notification.
type whatsappEnvelope struct {
	Object string          `json:"object"`
	Entry  []whatsappEntry `json:"entry"  validate:"required,dive"`
}

type whatsappEntry struct {
	ID      string           `json:"id"`
	Changes []whatsappChange `json:"changes" validate:"dive"`
}

type whatsappChange struct {
	Field string        `json:"field"`
	Value whatsappValue `json:"value"`
}

type whatsappValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Contacts         []whatsappContact `json:"contacts"`
	Messages         []whatsappMessage `json:"messages" validate:"dive"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type whatsappContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type whatsappMessage struct {
	ID          string               `json:"id"   validate:"required"`
	From        string               `json:"from" validate:"required"`
	Type        string               `json:"type" validate:"required"`
	Text        *whatsappText        `json:"text"`
	Audio       *whatsappMedia       `json:"audio"`
	Voice       *whatsappMedia       `json:"voice"`
	Interactive *whatsappInteractive `json:"interactive"`
}

type whatsappText struct {
	Body string `json:"body"`
}

type whatsappMedia struct {
	ID    string `json:"id"`
	Voice bool   `json:"voice"`
}

type whatsappInteractive struct {
	Type     string            `json:"type"`
	NfmReply *whatsappNfmReply `json:"nfm_reply"`
}

type whatsappNfmReply struct {
	Name         string `json:"name"`
	Body         string `json:"body"`
	ResponseJSON string `json:"response_json"`
}

// classifyPayload decides once, by structure, what a webhook body is.
func classifyPayload(body []byte, validate func(any) error) (webhookPayload, error) {
	var probe webhookProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return webhookPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}

	switch {
	case probe.EncryptedAESKey != nil || probe.EncryptedFlowData != nil || probe.InitialVector != nil:
		if probe.EncryptedAESKey == nil || probe.EncryptedFlowData == nil || probe.InitialVector == nil {
			return webhookPayload{}, fmt.Errorf("%w: incomplete encrypted form request", domain.ErrDecryptionFailed)
		}
		return webhookPayload{kind: kindEncrypted, flow: security.EncryptedFlowRequest{
			EncryptedAESKey:   *probe.EncryptedAESKey,
			InitialVector:     *probe.InitialVector,
			EncryptedFlowData: *probe.EncryptedFlowData,
		}}, nil

	case probe.Action == domain.FlowActionPing:
		return webhookPayload{kind: kindPing}, nil

	case probe.Object != "" || probe.Entry != nil:
		var env whatsappEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return webhookPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
		}
		if validate != nil {
			if err := validate(&env); err != nil {
				return webhookPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
			}
		}
		return whatsappMessages(env)

	case probe.UpdateID != nil:
		var update tgbotapi.Update
		if err := json.Unmarshal(body, &update); err != nil {
			return webhookPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
		}
		return telegramMessages(update), nil
	}
	return webhookPayload{}, fmt.Errorf("%w: unrecognised payload", domain.ErrMalformedWebhook)
}

func whatsappMessages(env whatsappEnvelope) (webhookPayload, error) {
	p := webhookPayload{kind: kindWhatsApp}
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, ct := range change.Value.Contacts {
				names[ct.WaID] = ct.Profile.Name
			}
			p.skipped += len(change.Value.Statuses)

			for _, m := range change.Value.Messages {
				msg, ok, err := whatsappMessageToInbound(m)
				if err != nil {
					return webhookPayload{}, err
				}
				if !ok {
					p.skipped++
					continue
				}
				msg.SenderName = names[m.From]
				p.messages = append(p.messages, msg)
			}
		}
	}
	return p, nil
}

func whatsappMessageToInbound(m whatsappMessage) (domain.InboundMessage, bool, error) {
	msg := domain.InboundMessage{Platform: platformWhatsApp, MessageID: m.ID, SenderID: m.From}
	switch m.Type {
	case "text":
		if m.Text == nil || m.Text.Body == "" {
			return msg, false, fmt.Errorf("%w: text message %s without body", domain.ErrMalformedWebhook, m.ID)
		}
		msg.Kind = domain.KindText
		msg.Text = m.Text.Body

	case "audio", "voice":
		media := m.Audio
		if media == nil {
			media = m.Voice
		}
		if media == nil || media.ID == "" {
			return msg, false, fmt.Errorf("%w: audio message %s without media id", domain.ErrMalformedWebhook, m.ID)
		}
		msg.Kind = domain.KindVoice
		msg.MediaRef = media.ID

	case "interactive":
		if m.Interactive == nil || m.Interactive.NfmReply == nil {
			return msg, false, nil
		}
		form, err := parseFormReply(m.Interactive.NfmReply.ResponseJSON)
		if err != nil {
			return msg, false, fmt.Errorf("%w: form reply %s: %v", domain.ErrMalformedWebhook, m.ID, err)
		}
		msg.Kind = domain.KindForm
		msg.Form = &form

	default:
		return msg, false, nil
	}
	return msg, true, nil
}

// parseFormReply reads the response_json string of a completed form.
func parseFormReply(raw string) (domain.FormResult, error) {
	if raw == "" {
		return domain.FormResult{}, fmt.Errorf("empty response_json")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return domain.FormResult{}, err
	}
	form := domain.FormResult{
		FlowToken: domain.FormValue(data, "flow_token"),
		Budget:    domain.FormValue(data, "budget"),
		CarType:   domain.FormValue(data, "car_type"),
		Raw:       data,
	}
	if form.FlowToken == "" {
		return domain.FormResult{}, fmt.Errorf("missing flow_token")
	}
	return form, nil
}

// telegramMessages keeps plain messages with text or a voice note; edits,
// callbacks and other media are skipped.
func telegramMessages(update tgbotapi.Update) webhookPayload {
	p := webhookPayload{kind: kindTelegram}
	m := update.Message
	if m == nil || m.Chat == nil {
		p.skipped++
		return p
	}
	msg := domain.InboundMessage{
		Platform:  platformTelegram,
		MessageID: strconv.Itoa(update.UpdateID),
		SenderID:  strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		msg.SenderName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	switch {
	case m.Voice != nil:
		msg.Kind = domain.KindVoice
		msg.MediaRef = m.Voice.FileID
	case m.Text != "":
		msg.Kind = domain.KindText
		msg.Text = m.Text
	default:
		p.skipped++
		return p
	}
	p.messages = append(p.messages, msg)
	return p
}
