package middleware

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/security"
)

// TelegramSecretHeader carries the secret_token registered with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// SignatureOptions configures webhook request authentication.
type SignatureOptions struct {
	AppSecret string
	// AcceptTelegramSecret lets a request authenticate with the Telegram
	// secret-token header instead of a body signature.
	AcceptTelegramSecret bool
	// Log receives one warning per rejected request.
	Log zerolog.Logger
}

// Signature rejects requests whose raw body is not signed with the app
// secret. The body is read once and restored for the handler.
func Signature(opts SignatureOptions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return fmt.Errorf("%w: read body: %v", domain.ErrMalformedWebhook, err)
			}
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(body))

			if opts.AcceptTelegramSecret && telegramSecretMatches(opts.AppSecret, req.Header.Get(TelegramSecretHeader)) {
				return next(c)
			}
			if err := security.VerifySignatureDetailed(opts.AppSecret, body, req.Header.Get(security.SignatureHeader)); err != nil {
				metrics.SignatureFailuresTotal.Inc()
				opts.Log.Warn().
					Err(err).
					Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
					Str("remote_ip", c.RealIP()).
					Msg("webhook signature rejected")
				return err
			}
			return next(c)
		}
	}
}

func telegramSecretMatches(secret, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}
