package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/core/domain"
)

// Status codes the messaging platform expects from an encrypted form endpoint.
const (
	StatusDecryptionFailed = 421
	StatusInvalidFlowToken = 427
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps known domain errors to their appropriate HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	// Known domain errors → deterministic HTTP codes.
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, domain.ErrDecryptionFailed):
		return StatusDecryptionFailed, "decryption failed"
	case errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusUnprocessableEntity, "malformed flow payload"
	case errors.Is(err, domain.ErrInvalidFlowToken):
		return StatusInvalidFlowToken, "invalid flow token"
	case errors.Is(err, domain.ErrMalformedWebhook):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Error().
			Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("store unavailable")
		return http.StatusInternalServerError, "store unavailable"
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, "internal server error"
}
