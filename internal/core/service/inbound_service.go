package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

// InboundService decides who handles a normalized message: the operator
// console for the operator's own identity, the dialog for everyone else.
// Work for one sender is serialized, and platform redeliveries are skipped.
type InboundService struct {
	operatorID   string
	conversation ports.ConversationService
	operator     ports.OperatorService
	serializer   ports.Serializer
	dedup        ports.DedupChecker
	log          zerolog.Logger
}

var _ ports.InboundService = (*InboundService)(nil)

// NewInboundService wires the router. dedup may be nil.
func NewInboundService(
	operatorID string,
	conversation ports.ConversationService,
	operator ports.OperatorService,
	serializer ports.Serializer,
	dedup ports.DedupChecker,
	log zerolog.Logger,
) *InboundService {
	return &InboundService{
		operatorID:   operatorID,
		conversation: conversation,
		operator:     operator,
		serializer:   serializer,
		dedup:        dedup,
		log:          log,
	}
}

func (s *InboundService) Handle(ctx context.Context, msg domain.InboundMessage) error {
	if msg.SenderID == "" {
		return fmt.Errorf("%w: message without sender", domain.ErrMalformedWebhook)
	}
	if msg.Kind == domain.KindText && msg.Text == "" && msg.Form == nil {
		return fmt.Errorf("%w: empty text message", domain.ErrMalformedWebhook)
	}

	route := s.conversation.HandleMessage
	if s.operatorID != "" && msg.SenderID == s.operatorID {
		route = s.operator.HandleCommand
	}

	return s.serializer.Do(ctx, msg.SenderID, func(ctx context.Context) error {
		if s.seen(ctx, msg) {
			return nil
		}
		if err := route(ctx, msg); err != nil {
			return err
		}
		s.mark(ctx, msg)
		return nil
	})
}

// seen reports a redelivered message. Dedup outages fail open.
func (s *InboundService) seen(ctx context.Context, msg domain.InboundMessage) bool {
	if s.dedup == nil || msg.MessageID == "" {
		return false
	}
	dup, err := s.dedup.IsDuplicate(ctx, msg.Platform, msg.MessageID)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("dedup check failed")
		return false
	}
	if dup {
		metrics.DedupTotal.WithLabelValues("hit").Inc()
		s.log.Info().Str("message_id", msg.MessageID).Str("sender", msg.SenderID).Msg("duplicate delivery skipped")
		return true
	}
	metrics.DedupTotal.WithLabelValues("miss").Inc()
	return false
}

func (s *InboundService) mark(ctx context.Context, msg domain.InboundMessage) {
	if s.dedup == nil || msg.MessageID == "" {
		return
	}
	if err := s.dedup.Mark(context.WithoutCancel(ctx), msg.Platform, msg.MessageID); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("dedup mark failed")
	}
}
