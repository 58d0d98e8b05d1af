package ports

import (
	"context"

	"github.com/importauto/leadline/internal/core/domain"
)

// InboundService routes a normalized inbound message to the operator console
// or the conversation state machine.
type InboundService interface {
	Handle(ctx context.Context, msg domain.InboundMessage) error
}

// ConversationService drives the bot dialog for one end-user message.
type ConversationService interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) error
}

// OperatorService interprets messages arriving on the operator's own channel.
type OperatorService interface {
	HandleCommand(ctx context.Context, msg domain.InboundMessage) error
}

// FlowService answers decrypted interactive-form requests.
type FlowService interface {
	Exchange(ctx context.Context, req domain.FlowRequest) (domain.FlowResponse, error)
}
