package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

// ConversationConfig holds the settings the dialog needs beyond its ports.
type ConversationConfig struct {
	OperatorID      string
	Platform        string
	FlowID          string
	FlowScreen      string
	DispatchTimeout time.Duration
}

// ConversationService applies end-user messages to the dialog state machine
// or, during a hand-off, relays them to the operator.
type ConversationService struct {
	store    ports.ConversationStore
	out      *outbox
	notifier ports.LeadNotifier
	tokens   ports.FlowTokenIssuer
	replies  *Replies
	cfg      ConversationConfig
	log      zerolog.Logger
}

var _ ports.ConversationService = (*ConversationService)(nil)

// NewConversationService wires the dialog. notifier and tokens may be nil;
// without tokens no form prompt is sent.
func NewConversationService(
	store ports.ConversationStore,
	gateway ports.Gateway,
	notifier ports.LeadNotifier,
	tokens ports.FlowTokenIssuer,
	replies *Replies,
	cfg ConversationConfig,
	log zerolog.Logger,
) *ConversationService {
	if replies == nil {
		replies = DefaultReplies()
	}
	if cfg.FlowScreen == "" {
		cfg.FlowScreen = domain.ScreenBudget
	}
	return &ConversationService{
		store:    store,
		out:      newOutbox(gateway, cfg.DispatchTimeout, log),
		notifier: notifier,
		tokens:   tokens,
		replies:  replies,
		cfg:      cfg,
		log:      log,
	}
}

// exchangeResult is what the locked exchange decided, read after commit.
type exchangeResult struct {
	forwarded  bool
	transition domain.Transition
	reply      string
}

func (s *ConversationService) HandleMessage(ctx context.Context, msg domain.InboundMessage) error {
	start := time.Now()
	if msg.Form != nil {
		if err := s.checkFormToken(msg); err != nil {
			return err
		}
	}

	var res exchangeResult
	client, err := s.store.Converse(ctx, msg.SenderID, msg.SenderName, func(c domain.Client) (ports.Exchange, error) {
		res = exchangeResult{}
		inbound := inboundLogEntry(msg)
		if c.ManagedByOperator {
			res.forwarded = true
			return ports.Exchange{Messages: []domain.Message{inbound}}, nil
		}

		tr, err := s.transition(c, msg)
		if err != nil {
			return ports.Exchange{}, err
		}
		after := c.Apply(tr.Update())
		res.transition = tr
		res.reply = s.replies.Bot(tr.Reply, clientReplyData(after))
		return ports.Exchange{
			Update: tr.Update(),
			Messages: []domain.Message{
				inbound,
				{Sender: domain.SenderBot, Kind: domain.KindText, Text: res.reply},
			},
		}, nil
	})
	if err != nil {
		return fmt.Errorf("handle message from %s: %w", msg.SenderID, err)
	}

	if res.forwarded {
		s.forwardToOperator(ctx, client, msg)
		metrics.MessageHandlingDuration.WithLabelValues("forward").Observe(time.Since(start).Seconds())
		return nil
	}

	tr := res.transition
	metrics.DialogTransitionsTotal.WithLabelValues(string(tr.From), string(tr.Next)).Inc()
	s.log.Info().
		Str("client", client.Identifier).
		Str("from", string(tr.From)).
		Str("step", string(tr.Next)).
		Str("kind", string(msg.Kind)).
		Msg("dialog advanced")

	s.out.text(ctx, client.Identifier, res.reply)
	if tr.From == domain.StepAskConfirm && tr.Next == domain.StepAwaitBudget {
		s.sendFlowPrompt(ctx, client)
	}
	if tr.Completed() {
		via := "chat"
		if msg.Form != nil {
			via = "form"
		}
		metrics.LeadsCompletedTotal.WithLabelValues(via).Inc()
		s.announceLead(ctx, client)
	}
	metrics.MessageHandlingDuration.WithLabelValues("bot").Observe(time.Since(start).Seconds())
	return nil
}

func (s *ConversationService) transition(c domain.Client, msg domain.InboundMessage) (domain.Transition, error) {
	switch {
	case msg.Form != nil:
		return domain.CompleteWithForm(c, *msg.Form)
	case msg.Kind == domain.KindVoice:
		return domain.AdvanceVoice(c), nil
	default:
		return domain.Advance(c, msg.Text), nil
	}
}

// checkFormToken ties a returned form to the client it was sent to.
func (s *ConversationService) checkFormToken(msg domain.InboundMessage) error {
	if s.tokens == nil {
		return nil
	}
	claims, err := s.tokens.Verify(msg.Form.FlowToken)
	if err != nil {
		return err
	}
	if claims.Identifier != msg.SenderID {
		return fmt.Errorf("%w: token issued to another client", domain.ErrInvalidFlowToken)
	}
	return nil
}

func (s *ConversationService) sendFlowPrompt(ctx context.Context, client domain.Client) {
	if s.cfg.FlowID == "" || s.tokens == nil {
		return
	}
	token, err := s.tokens.Issue(client.Identifier)
	if err != nil {
		s.log.Error().Err(err).Str("client", client.Identifier).Msg("issue flow token")
		return
	}
	prompt := domain.FlowPrompt{
		FlowID: s.cfg.FlowID,
		Screen: s.cfg.FlowScreen,
		Header: s.replies.Render("flow.header", nil),
		Body:   s.replies.Render("flow.body", nil),
		CTA:    s.replies.Render("flow.cta", nil),
		Token:  token,
	}
	if !s.out.flow(ctx, client.Identifier, prompt) {
		return
	}
	entry := domain.Message{Sender: domain.SenderBot, Kind: domain.KindForm, Text: prompt.Body}
	if err := s.store.AppendMessage(context.WithoutCancel(ctx), client.ID, entry); err != nil {
		s.log.Warn().Err(err).Str("client", client.Identifier).Msg("log flow prompt")
	}
}

func (s *ConversationService) announceLead(ctx context.Context, client domain.Client) {
	data := clientReplyData(client)
	if s.cfg.OperatorID != "" {
		s.out.text(ctx, s.cfg.OperatorID, s.replies.Operator("lead", data))
	}
	if s.notifier == nil {
		return
	}
	lead := domain.Lead{
		Identifier: client.Identifier,
		Name:       client.Name,
		Budget:     data.Budget,
		CarType:    data.CarType,
		Source:     s.cfg.Platform,
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.out.timeout)
	defer cancel()
	if err := s.notifier.NotifyLead(nctx, lead); err != nil {
		metrics.DispatchFailuresTotal.WithLabelValues("notify").Inc()
		s.log.Warn().Err(err).Str("client", client.Identifier).Msg("lead notification failed")
	}
}

// forwardToOperator relays a managed client's message verbatim.
func (s *ConversationService) forwardToOperator(ctx context.Context, client domain.Client, msg domain.InboundMessage) {
	if s.cfg.OperatorID == "" {
		s.log.Warn().Str("client", client.Identifier).Msg("managed client message with no operator configured")
		return
	}
	data := clientReplyData(client)
	switch {
	case msg.Form != nil:
		data.Budget, data.CarType = msg.Form.Budget, msg.Form.CarType
		s.out.text(ctx, s.cfg.OperatorID, s.replies.Operator("client_form", data))
	case msg.Kind == domain.KindVoice:
		s.out.text(ctx, s.cfg.OperatorID, s.replies.Operator("client_voice", data))
		s.out.voice(ctx, s.cfg.OperatorID, msg.MediaRef)
	default:
		data.Text = msg.Text
		s.out.text(ctx, s.cfg.OperatorID, s.replies.Operator("client_message", data))
	}
}

func inboundLogEntry(msg domain.InboundMessage) domain.Message {
	kind := msg.Kind
	if kind == "" {
		kind = domain.KindText
	}
	text := msg.Text
	if msg.Form != nil {
		kind = domain.KindForm
		text = fmt.Sprintf("budget=%s car_type=%s", msg.Form.Budget, msg.Form.CarType)
	}
	return domain.Message{Sender: domain.SenderClient, Kind: kind, Text: text, MediaRef: msg.MediaRef}
}
