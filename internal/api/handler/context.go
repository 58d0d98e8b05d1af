package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// requestLogger tags log with the id set by the RequestID middleware, so a
// webhook delivery can be followed through the service logs.
func requestLogger(c echo.Context, log zerolog.Logger) zerolog.Logger {
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	if id == "" {
		return log
	}
	return log.With().Str("request_id", id).Logger()
}
