package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
	"github.com/importauto/leadline/internal/security"
)

const (
	listLimit    = 10
	historyLimit = 20
)

// command is a parsed operator console instruction.
type command struct {
	name string
	arg  string
}

// arity is the number of arguments each console command takes.
var arity = map[string]int{
	"login":    1,
	"logout":   0,
	"help":     0,
	"list":     0,
	"takeover": 1,
	"release":  1,
	"history":  1,
}

var usage = map[string]string{
	"login":    "/login <password>",
	"takeover": "/takeover <id>",
	"release":  "/release <id>",
	"history":  "/history <id>",
}

// parseCommand recognises a console command. A leading slash always marks a
// command. Without it a command word followed by more words than the command
// takes is ordinary chat and gets forwarded; too few words still count as
// the command, so a bare "takeover" gets the usage text instead of reaching
// the client.
func parseCommand(text string) (command, bool) {
	trimmed := strings.TrimSpace(text)
	slashed := strings.HasPrefix(trimmed, "/")
	fields := strings.Fields(strings.TrimPrefix(trimmed, "/"))
	if len(fields) == 0 {
		return command{}, false
	}
	name := strings.ToLower(fields[0])
	n, known := arity[name]
	if !known {
		if slashed {
			return command{name: name}, true
		}
		return command{}, false
	}
	args := fields[1:]
	if len(args) > n && !slashed {
		return command{}, false
	}
	c := command{name: name}
	if len(args) > 0 && n > 0 {
		c.arg = args[0]
	}
	return c, true
}

// OperatorService implements the operator console.
type OperatorService struct {
	store    ports.ConversationStore
	sessions ports.SessionStore
	out      *outbox
	replies  *Replies
	password string
	log      zerolog.Logger

	// mu orders hand-off changes and forwards issued by this process.
	mu sync.Mutex
}

var _ ports.OperatorService = (*OperatorService)(nil)

func NewOperatorService(
	store ports.ConversationStore,
	sessions ports.SessionStore,
	gateway ports.Gateway,
	replies *Replies,
	password string,
	dispatchTimeout time.Duration,
	log zerolog.Logger,
) *OperatorService {
	if replies == nil {
		replies = DefaultReplies()
	}
	return &OperatorService{
		store:    store,
		sessions: sessions,
		out:      newOutbox(gateway, dispatchTimeout, log),
		replies:  replies,
		password: password,
		log:      log,
	}
}

func (s *OperatorService) HandleCommand(ctx context.Context, msg domain.InboundMessage) error {
	start := time.Now()
	defer func() {
		metrics.MessageHandlingDuration.WithLabelValues("operator").Observe(time.Since(start).Seconds())
	}()

	operatorID := msg.SenderID
	cmd, isCommand := parseCommand(msg.Text)
	if msg.Kind != domain.KindText && msg.Kind != "" {
		isCommand = false
	}

	if isCommand && cmd.name == "login" {
		if cmd.arg == "" {
			s.reply(ctx, operatorID, s.replies.Operator("usage", replyData{Usage: usage["login"]}))
			return nil
		}
		return s.login(ctx, operatorID, cmd.arg)
	}

	loggedIn, err := s.sessions.IsLoggedIn(ctx, operatorID)
	if err != nil {
		return fmt.Errorf("%w: operator session: %v", domain.ErrStoreUnavailable, err)
	}
	if !loggedIn {
		metrics.OperatorCommandsTotal.WithLabelValues(commandLabel(cmd, isCommand), "denied").Inc()
		s.reply(ctx, operatorID, s.replies.Operator("login_required", nil))
		return nil
	}

	if !isCommand {
		return s.forward(ctx, operatorID, msg)
	}

	var cmdErr error
	switch cmd.name {
	case "logout":
		cmdErr = s.logout(ctx, operatorID)
	case "help":
		s.reply(ctx, operatorID, s.replies.Operator("help", nil))
	case "list":
		cmdErr = s.list(ctx, operatorID)
	case "takeover", "release", "history":
		if cmd.arg == "" {
			s.reply(ctx, operatorID, s.replies.Operator("usage", replyData{Usage: usage[cmd.name]}))
			break
		}
		switch cmd.name {
		case "takeover":
			cmdErr = s.takeover(ctx, operatorID, cmd.arg)
		case "release":
			cmdErr = s.release(ctx, operatorID, cmd.arg)
		default:
			cmdErr = s.history(ctx, operatorID, cmd.arg)
		}
	default:
		s.reply(ctx, operatorID, s.replies.Operator("help", nil))
	}

	outcome := "ok"
	switch {
	case errors.Is(cmdErr, domain.ErrClientNotFound):
		outcome = "not_found"
		s.reply(ctx, operatorID, s.replies.Operator("not_found", replyData{Identifier: cmd.arg}))
		cmdErr = nil
	case cmdErr != nil:
		outcome = "error"
	}
	metrics.OperatorCommandsTotal.WithLabelValues(commandLabel(cmd, true), outcome).Inc()
	if cmdErr != nil {
		return fmt.Errorf("operator %s: %w", cmd.name, cmdErr)
	}
	return nil
}

func (s *OperatorService) login(ctx context.Context, operatorID, password string) error {
	if !security.PasswordMatches(s.password, password) {
		metrics.OperatorCommandsTotal.WithLabelValues("login", "denied").Inc()
		s.log.Warn().Str("operator", operatorID).Err(domain.ErrOperatorAuth).Msg("operator login rejected")
		s.reply(ctx, operatorID, s.replies.Operator("login_failed", nil))
		return nil
	}
	if err := s.sessions.SetLoggedIn(ctx, operatorID, true); err != nil {
		metrics.OperatorCommandsTotal.WithLabelValues("login", "error").Inc()
		return fmt.Errorf("%w: operator session: %v", domain.ErrStoreUnavailable, err)
	}
	metrics.OperatorCommandsTotal.WithLabelValues("login", "ok").Inc()
	s.log.Info().Str("operator", operatorID).Msg("operator logged in")
	s.reply(ctx, operatorID, s.replies.Operator("login_ok", nil))
	return nil
}

func (s *OperatorService) logout(ctx context.Context, operatorID string) error {
	if err := s.sessions.SetLoggedIn(ctx, operatorID, false); err != nil {
		return fmt.Errorf("%w: operator session: %v", domain.ErrStoreUnavailable, err)
	}
	s.reply(ctx, operatorID, s.replies.Operator("logout", nil))
	return nil
}

func (s *OperatorService) list(ctx context.Context, operatorID string) error {
	clients, err := s.store.RecentClients(ctx, listLimit)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		s.reply(ctx, operatorID, s.replies.Operator("list_empty", nil))
		return nil
	}
	s.reply(ctx, operatorID, s.replies.Operator("list", struct{ Clients []domain.Client }{clients}))
	return nil
}

func (s *OperatorService) takeover(ctx context.Context, operatorID, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.store.ManagedClient(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoActiveChat) {
		return err
	}
	client, err := s.store.Takeover(ctx, identifier)
	if err != nil {
		return err
	}
	metrics.ActiveHandoffs.Set(1)
	s.log.Info().Str("operator", operatorID).Str("client", client.Identifier).Msg("operator took over chat")

	if previous.Identifier != "" && previous.Identifier != client.Identifier {
		s.out.text(ctx, previous.Identifier, s.replies.Operator("release_client", nil))
	}
	s.reply(ctx, operatorID, s.replies.Operator("takeover_ok", clientReplyData(client)))
	s.out.text(ctx, client.Identifier, s.replies.Operator("takeover_client", nil))
	return nil
}

func (s *OperatorService) release(ctx context.Context, operatorID, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.store.Release(ctx, identifier)
	if err != nil {
		return err
	}
	if _, err := s.store.ManagedClient(ctx); errors.Is(err, domain.ErrNoActiveChat) {
		metrics.ActiveHandoffs.Set(0)
	}
	s.log.Info().Str("operator", operatorID).Str("client", client.Identifier).Str("step", string(client.DialogStep)).Msg("operator released chat")

	s.reply(ctx, operatorID, s.replies.Operator("release_ok", clientReplyData(client)))
	s.out.text(ctx, client.Identifier, s.replies.Operator("release_client", nil))
	return nil
}

func (s *OperatorService) history(ctx context.Context, operatorID, identifier string) error {
	msgs, err := s.store.History(ctx, identifier, historyLimit)
	if err != nil {
		return err
	}
	data := struct {
		Identifier string
		Messages   []domain.Message
	}{identifier, msgs}
	if len(msgs) == 0 {
		s.reply(ctx, operatorID, s.replies.Operator("history_empty", data))
		return nil
	}
	s.reply(ctx, operatorID, s.replies.Operator("history", data))
	return nil
}

// forward relays operator text or voice to the managed client and logs it.
func (s *OperatorService) forward(ctx context.Context, operatorID string, msg domain.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.store.ManagedClient(ctx)
	if errors.Is(err, domain.ErrNoActiveChat) {
		metrics.OperatorCommandsTotal.WithLabelValues("forward", "no_active_chat").Inc()
		s.reply(ctx, operatorID, s.replies.Operator("no_active_chat", nil))
		return nil
	}
	if err != nil {
		metrics.OperatorCommandsTotal.WithLabelValues("forward", "error").Inc()
		return fmt.Errorf("operator forward: %w", err)
	}

	entry := domain.Message{Sender: domain.SenderOperator, Kind: domain.KindText, Text: msg.Text}
	if msg.Kind == domain.KindVoice {
		entry.Kind = domain.KindVoice
		entry.Text = ""
		entry.MediaRef = msg.MediaRef
	}
	if err := s.store.AppendMessage(ctx, client.ID, entry); err != nil {
		metrics.OperatorCommandsTotal.WithLabelValues("forward", "error").Inc()
		return fmt.Errorf("operator forward: %w", err)
	}

	if entry.Kind == domain.KindVoice {
		s.out.voice(ctx, client.Identifier, msg.MediaRef)
	} else {
		s.out.text(ctx, client.Identifier, msg.Text)
	}
	metrics.OperatorCommandsTotal.WithLabelValues("forward", "ok").Inc()
	return nil
}

func (s *OperatorService) reply(ctx context.Context, operatorID, text string) {
	s.out.text(ctx, operatorID, text)
}

func commandLabel(c command, isCommand bool) string {
	if !isCommand {
		return "forward"
	}
	if _, ok := arity[c.name]; !ok {
		return "unknown"
	}
	return c.name
}
