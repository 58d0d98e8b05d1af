package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
	"github.com/importauto/leadline/internal/security"
)

// WebhookHandler serves the platform webhook: the subscription handshake and
// every signed POST, encrypted forms included.
type WebhookHandler struct {
	verifyToken string
	cipher      *security.FlowCipher
	flow        ports.FlowService
	inbound     ports.InboundService
	log         zerolog.Logger
}

// NewWebhookHandler wires the webhook. cipher and flow may be nil when the
// interactive form is not configured; encrypted requests then fail to decrypt.
func NewWebhookHandler(
	verifyToken string,
	cipher *security.FlowCipher,
	flow ports.FlowService,
	inbound ports.InboundService,
	log zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifyToken: verifyToken,
		cipher:      cipher,
		flow:        flow,
		inbound:     inbound,
		log:         log,
	}
}

// Verify handles GET /webhook.
//
//	@Summary		Webhook subscription handshake
//	@Description	Echoes the challenge when mode is subscribe and the verify token matches.
//	@Tags			webhook
//	@Produce		plain
//	@Param			hub.mode			query		string	false	"subscribe"
//	@Param			hub.verify_token	query		string	false	"configured verify token"
//	@Param			hub.challenge		query		string	false	"value to echo"
//	@Success		200					{string}	string
//	@Failure		403					{object}	map[string]string
//	@Router			/webhook [get]
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := queryParam(c, "hub.mode", "mode")
	token := queryParam(c, "hub.verify_token", "verify_token")
	challenge := queryParam(c, "hub.challenge", "challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		metrics.WebhookRequestsTotal.WithLabelValues("verify", "rejected").Inc()
		h.log.Warn().Str("mode", mode).Msg("webhook verification rejected")
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	metrics.WebhookRequestsTotal.WithLabelValues("verify", "ok").Inc()
	return c.String(http.StatusOK, challenge)
}

// Receive handles POST /webhook.
//
//	@Summary		Receive a platform callback
//	@Description	Accepts encrypted form requests (text/plain base64 reply), health pings and message envelopes.
//	@Tags			webhook
//	@Accept			json
//	@Produce		json
//	@Param			X-Hub-Signature-256	header		string	true	"sha256=<hex hmac of the body>"
//	@Success		200					{object}	map[string]string
//	@Failure		400					{object}	map[string]string
//	@Failure		401					{object}	map[string]string
//	@Failure		421					{object}	map[string]string
//	@Failure		422					{object}	map[string]string
//	@Failure		427					{object}	map[string]string
//	@Failure		500					{object}	map[string]string
//	@Router			/webhook [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrMalformedWebhook, err)
	}

	p, err := classifyPayload(body, c.Validate)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("unknown", outcome(err)).Inc()
		rl := requestLogger(c, h.log)
		rl.Warn().Err(err).Msg("webhook payload rejected")
		return err
	}

	err = h.dispatch(c, p)
	metrics.WebhookRequestsTotal.WithLabelValues(string(p.kind), outcome(err)).Inc()
	return err
}

func (h *WebhookHandler) dispatch(c echo.Context, p webhookPayload) error {
	switch p.kind {
	case kindEncrypted:
		return h.exchangeFlow(c, p.flow)
	case kindPing:
		return c.JSON(http.StatusOK, map[string]any{"data": map[string]string{"status": "active"}})
	}

	// Every message gets its chance even when an earlier one fails. Handled
	// ids are marked in the dedup store, so the redelivery a failure asks for
	// only replays the failed ones.
	ctx := c.Request().Context()
	var firstErr error
	for _, msg := range p.messages {
		if err := h.inbound.Handle(ctx, msg); err != nil {
			rl := requestLogger(c, h.log)
			rl.Error().Err(err).
				Str("message_id", msg.MessageID).
				Str("client", msg.SenderID).
				Msg("inbound message failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if len(p.messages) == 0 {
		rl := requestLogger(c, h.log)
		rl.Debug().Str("kind", string(p.kind)).Int("skipped", p.skipped).Msg("webhook without messages")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// exchangeFlow decrypts a form request, routes it and seals the reply with
// the same request-scoped key.
func (h *WebhookHandler) exchangeFlow(c echo.Context, enc security.EncryptedFlowRequest) error {
	if h.cipher == nil || h.flow == nil {
		metrics.FlowCryptoFailuresTotal.WithLabelValues("decrypt").Inc()
		return fmt.Errorf("%w: form endpoint not configured", domain.ErrDecryptionFailed)
	}

	req, key, err := h.cipher.DecodeRequest(enc)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, domain.ErrDecryptionFailed) {
			reason = "decrypt"
		}
		metrics.FlowCryptoFailuresTotal.WithLabelValues(reason).Inc()
		rl := requestLogger(c, h.log)
		rl.Warn().Err(err).Msg("form request rejected")
		return err
	}
	if err := c.Validate(&req); err != nil {
		metrics.FlowCryptoFailuresTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	resp, err := h.flow.Exchange(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFlowToken) {
			metrics.FlowCryptoFailuresTotal.WithLabelValues("token").Inc()
		}
		return err
	}

	sealed, err := key.Seal(resp)
	if err != nil {
		metrics.FlowCryptoFailuresTotal.WithLabelValues("seal").Inc()
		return fmt.Errorf("seal form response: %w", err)
	}
	return c.String(http.StatusOK, sealed)
}

func queryParam(c echo.Context, names ...string) string {
	for _, n := range names {
		if v := c.QueryParam(n); v != "" {
			return v
		}
	}
	return ""
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAuthentication):
		return "unauthorized"
	case errors.Is(err, domain.ErrDecryptionFailed):
		return "decrypt_failed"
	case errors.Is(err, domain.ErrMalformedPayload), errors.Is(err, domain.ErrMalformedWebhook):
		return "malformed"
	case errors.Is(err, domain.ErrInvalidFlowToken):
		return "invalid_token"
	default:
		return "error"
	}
}
