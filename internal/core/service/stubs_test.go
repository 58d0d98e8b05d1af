package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

// stubStore is an in-memory ConversationStore with one lock standing in for
// the row lock.
type stubStore struct {
	mu       sync.Mutex
	nextID   uint
	clients  map[string]*domain.Client
	messages map[uint][]domain.Message
	err      error
}

func newStubStore() *stubStore {
	return &stubStore{clients: map[string]*domain.Client{}, messages: map[uint][]domain.Message{}}
}

func (s *stubStore) Converse(_ context.Context, identifier, name string, fn ports.ExchangeFunc) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Client{}, s.err
	}
	c, ok := s.clients[identifier]
	fresh := !ok
	if fresh {
		s.nextID++
		c = &domain.Client{ID: s.nextID, Identifier: identifier, Name: name, DialogStep: domain.StepStart, Status: domain.StatusNew}
	}
	ex, err := fn(*c)
	if err != nil {
		return domain.Client{}, err
	}
	updated := c.Apply(ex.Update)
	updated.UpdatedAt = time.Now()
	s.clients[identifier] = &updated
	s.messages[updated.ID] = append(s.messages[updated.ID], ex.Messages...)
	return updated, nil
}

func (s *stubStore) FindClient(_ context.Context, identifier string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[identifier]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	return *c, nil
}

func (s *stubStore) RecentClients(_ context.Context, limit int) ([]domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Client
	for _, c := range s.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubStore) History(_ context.Context, identifier string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[identifier]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	msgs := s.messages[c.ID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (s *stubStore) AppendMessage(_ context.Context, clientID uint, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[clientID] = append(s.messages[clientID], msg)
	return nil
}

func (s *stubStore) Takeover(_ context.Context, identifier string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.clients[identifier]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	for _, c := range s.clients {
		c.ManagedByOperator = false
	}
	target.ManagedByOperator = true
	return *target, nil
}

func (s *stubStore) Release(_ context.Context, identifier string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[identifier]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	c.ManagedByOperator = false
	if c.DialogStep == domain.StepDone {
		c.DialogStep, c.Status, c.Budget, c.CarType = domain.StepStart, domain.StatusNew, nil, nil
	}
	return *c, nil
}

func (s *stubStore) ManagedClient(_ context.Context) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.ManagedByOperator {
			return *c, nil
		}
	}
	return domain.Client{}, domain.ErrNoActiveChat
}

func (s *stubStore) Stats(context.Context) (domain.ClientStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.ClientStats{ByStatus: map[domain.ClientStatus]int64{}}
	for _, c := range s.clients {
		st.ByStatus[c.Status]++
		if c.ManagedByOperator {
			st.Managed++
		}
	}
	return st, nil
}

func (s *stubStore) Ping(context.Context) error { return s.err }

func (s *stubStore) managedCount() int {
	st, _ := s.Stats(context.Background())
	return int(st.Managed)
}

func (s *stubStore) log(identifier string) []domain.Message {
	msgs, _ := s.History(context.Background(), identifier, 1000)
	return msgs
}

type sent struct {
	to     string
	kind   string
	text   string
	prompt domain.FlowPrompt
}

type stubGateway struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (g *stubGateway) record(s sent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, s)
	return g.err
}

func (g *stubGateway) SendText(_ context.Context, to, text string) error {
	return g.record(sent{to: to, kind: "text", text: text})
}

func (g *stubGateway) SendVoice(_ context.Context, to, mediaRef string) error {
	return g.record(sent{to: to, kind: "voice", text: mediaRef})
}

func (g *stubGateway) SendFlow(_ context.Context, to string, prompt domain.FlowPrompt) error {
	return g.record(sent{to: to, kind: "flow", prompt: prompt})
}

func (g *stubGateway) to(id string) []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sent
	for _, s := range g.sent {
		if s.to == id {
			out = append(out, s)
		}
	}
	return out
}

func (g *stubGateway) last(id string) sent {
	all := g.to(id)
	if len(all) == 0 {
		return sent{}
	}
	return all[len(all)-1]
}

type stubNotifier struct {
	leads []domain.Lead
}

func (n *stubNotifier) NotifyLead(_ context.Context, lead domain.Lead) error {
	n.leads = append(n.leads, lead)
	return nil
}

type stubTokens struct {
	issued int
}

func (t *stubTokens) Issue(identifier string) (string, error) {
	t.issued++
	return "token-for-" + identifier, nil
}

func (t *stubTokens) Verify(token string) (ports.FlowTokenClaims, error) {
	const prefix = "token-for-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return ports.FlowTokenClaims{}, domain.ErrInvalidFlowToken
	}
	return ports.FlowTokenClaims{TokenID: "jti-" + token[len(prefix):], Identifier: token[len(prefix):]}, nil
}

// inline runs serialized work on the caller's goroutine.
type inline struct{ mu sync.Mutex }

func (s *inline) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}

const testOperator = "operator-1"

func newTestConversation(store *stubStore, gw *stubGateway, notifier *stubNotifier, tokens *stubTokens, flowID string) *ConversationService {
	var n ports.LeadNotifier
	if notifier != nil {
		n = notifier
	}
	var tk ports.FlowTokenIssuer
	if tokens != nil {
		tk = tokens
	}
	return NewConversationService(store, gw, n, tk, DefaultReplies(), ConversationConfig{
		OperatorID: testOperator,
		Platform:   "whatsapp",
		FlowID:     flowID,
	}, zerolog.Nop())
}

func text(from, body string) domain.InboundMessage {
	return domain.InboundMessage{Platform: "whatsapp", SenderID: from, SenderName: "Ana", Kind: domain.KindText, Text: body}
}
