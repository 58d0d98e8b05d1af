package ports

import (
	"context"

	"github.com/importauto/leadline/internal/core/domain"
)

// Gateway delivers outbound messages to the messaging platform. It owns all
// platform-specific request construction and authentication.
type Gateway interface {
	SendText(ctx context.Context, to, text string) error
	SendVoice(ctx context.Context, to, mediaRef string) error
	SendFlow(ctx context.Context, to string, prompt domain.FlowPrompt) error
}

// LeadNotifier publishes finished leads to an out-of-band channel.
type LeadNotifier interface {
	NotifyLead(ctx context.Context, lead domain.Lead) error
}
