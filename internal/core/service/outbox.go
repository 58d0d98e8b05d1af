package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

const defaultDispatchTimeout = 10 * time.Second

// outbox delivers messages after state is committed. Sends run on a context
// detached from the inbound request and bounded by timeout; failures are
// logged and counted, never returned.
type outbox struct {
	gateway ports.Gateway
	timeout time.Duration
	log     zerolog.Logger
}

func newOutbox(gateway ports.Gateway, timeout time.Duration, log zerolog.Logger) *outbox {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &outbox{gateway: gateway, timeout: timeout, log: log}
}

func (o *outbox) text(ctx context.Context, to, text string) bool {
	return o.do(ctx, "text", to, func(ctx context.Context) error {
		return o.gateway.SendText(ctx, to, text)
	})
}

func (o *outbox) voice(ctx context.Context, to, mediaRef string) bool {
	return o.do(ctx, "voice", to, func(ctx context.Context) error {
		return o.gateway.SendVoice(ctx, to, mediaRef)
	})
}

func (o *outbox) flow(ctx context.Context, to string, prompt domain.FlowPrompt) bool {
	return o.do(ctx, "flow", to, func(ctx context.Context) error {
		return o.gateway.SendFlow(ctx, to, prompt)
	})
}

func (o *outbox) do(ctx context.Context, kind, to string, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		metrics.DispatchFailuresTotal.WithLabelValues(kind).Inc()
		o.log.Warn().Err(err).Str("to", to).Str("kind", kind).Msg("outbound send failed")
		return false
	}
	return true
}
