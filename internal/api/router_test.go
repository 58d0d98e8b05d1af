package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/importauto/leadline/internal/api/handler"
	"github.com/importauto/leadline/internal/api/middleware"
	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/service"
	"github.com/importauto/leadline/internal/infrastructure/db/sqlstore"
	"github.com/importauto/leadline/internal/infrastructure/memory"
	"github.com/importauto/leadline/internal/infrastructure/queue"
	"github.com/importauto/leadline/internal/security"
	"github.com/importauto/leadline/internal/security/securitytest"
)

const (
	appSecret   = "app-secret"
	verifyToken = "verify-me"
	operatorID  = "70000"
)

type recordingGateway struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (g *recordingGateway) add(to, v string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sent == nil {
		g.sent = map[string][]string{}
	}
	g.sent[to] = append(g.sent[to], v)
	return nil
}

func (g *recordingGateway) SendText(_ context.Context, to, text string) error { return g.add(to, text) }
func (g *recordingGateway) SendVoice(_ context.Context, to, ref string) error {
	return g.add(to, "voice:"+ref)
}
func (g *recordingGateway) SendFlow(_ context.Context, to string, p domain.FlowPrompt) error {
	return g.add(to, "flow:"+p.FlowID)
}

func (g *recordingGateway) last(to string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := g.sent[to]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type testServer struct {
	e      *echo.Echo
	db     *gorm.DB
	store  *sqlstore.Store
	gw     *recordingGateway
	cipher *security.FlowCipher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: sqlstore.DriverSQLite,
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sqlstore.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	pemKey, _, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := security.ParsePrivateKey(pemKey)
	if err != nil {
		t.Fatal(err)
	}
	cipher, err := security.NewFlowCipher(raw, security.KDFRaw)
	if err != nil {
		t.Fatal(err)
	}

	log := zerolog.Nop()
	store := sqlstore.NewStore(db)
	gw := &recordingGateway{}
	tokens := security.NewFlowTokens("token-secret", time.Hour)
	replies := service.DefaultReplies()

	conversation := service.NewConversationService(store, gw, nil, tokens, replies, service.ConversationConfig{
		OperatorID: operatorID,
		Platform:   "whatsapp",
	}, log)
	operator := service.NewOperatorService(store, memory.NewSessionStore(), gw, replies, "pw", time.Second, log)
	dispatcher := queue.NewDispatcher(4, log)
	dispatcher.Start(ctx)
	inbound := service.NewInboundService(operatorID, conversation, operator, dispatcher, memory.NewDedupChecker(time.Hour), log)
	flow := service.NewFlowService(tokens, nil, log)

	e := NewRouter(RouterDeps{
		Log:        log,
		Webhook:    handler.NewWebhookHandler(verifyToken, cipher, flow, inbound, log),
		Signature:  middleware.SignatureOptions{AppSecret: appSecret, Log: log},
		Store:      store,
		Registerer: prometheus.NewRegistry(),
	})
	return &testServer{e: e, db: db, store: store, gw: gw, cipher: cipher}
}

func (s *testServer) do(t *testing.T, method, target, body string, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signed {
		req.Header.Set(security.SignatureHeader, security.Sign(appSecret, []byte(body)))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) rows(t *testing.T) (clients, messages int64) {
	t.Helper()
	s.db.Table("clients").Count(&clients)
	s.db.Table("messages").Count(&messages)
	return clients, messages
}

func textEnvelope(from, body string) string {
	b, _ := json.Marshal(map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{"id": "1", "changes": []any{map[string]any{
			"field": "messages",
			"value": map[string]any{
				"messaging_product": "whatsapp",
				"contacts":          []any{map[string]any{"wa_id": from, "profile": map[string]any{"name": "Ana"}}},
				"messages": []any{map[string]any{
					"id":   "wamid." + uuid.NewString(),
					"from": from, "type": "text", "text": map[string]any{"body": body},
				}},
			},
		}}}},
	})
	return string(b)
}

func TestRouter_Verify(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token="+verifyToken+"&hub.challenge=42", "", false)
	if rec.Code != http.StatusOK || rec.Body.String() != "42" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "", false)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token code = %d", rec.Code)
	}
}

func TestRouter_UnsignedIsRejected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/webhook", textEnvelope("79001", "hi"), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
	if c, m := s.rows(t); c != 0 || m != 0 {
		t.Errorf("rows written: clients=%d messages=%d", c, m)
	}
}

func TestRouter_Ping(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/webhook", `{"action":"ping"}`, true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"active"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_Malformed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/webhook", `{"hello":"world"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestRouter_DialogOverHTTP(t *testing.T) {
	s := newTestServer(t)
	for _, in := range []string{"hi", "yes", "25000", "Sedan"} {
		rec := s.do(t, http.MethodPost, "/webhook", textEnvelope("79001", in), true)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: code = %d body = %s", in, rec.Code, rec.Body.String())
		}
	}
	c, err := s.store.FindClient(context.Background(), "79001")
	if err != nil {
		t.Fatal(err)
	}
	if c.DialogStep != domain.StepDone || *c.Budget != "25000" || *c.CarType != "Sedan" {
		t.Errorf("client = %+v", c)
	}
	if !strings.HasPrefix(s.gw.last(operatorID), "New lead: Ana (79001)") {
		t.Errorf("operator got %q", s.gw.last(operatorID))
	}
}

func TestRouter_OperatorHandoff(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/webhook", textEnvelope("79001", "hi"), true)

	for _, cmd := range []string{"/login pw", "/takeover 79001", "We have a Sorento in stock"} {
		if rec := s.do(t, http.MethodPost, "/webhook", textEnvelope(operatorID, cmd), true); rec.Code != http.StatusOK {
			t.Fatalf("%q: code = %d", cmd, rec.Code)
		}
	}
	if got := s.gw.last("79001"); got != "We have a Sorento in stock" {
		t.Errorf("client got %q", got)
	}

	s.do(t, http.MethodPost, "/webhook", textEnvelope("79001", "great, price?"), true)
	if got := s.gw.last(operatorID); !strings.HasSuffix(got, "great, price?") {
		t.Errorf("operator got %q", got)
	}
	c, _ := s.store.FindClient(context.Background(), "79001")
	if c.DialogStep != domain.StepAskConfirm {
		t.Errorf("step = %s, a managed client must not advance", c.DialogStep)
	}
}

func TestRouter_TamperedFormWritesNothing(t *testing.T) {
	s := newTestServer(t)
	client := securitytest.NewClient(s.cipher.PublicKey(), security.KDFRaw)
	enc, _ := client.Encrypt(t, map[string]any{"version": "3.0", "action": "INIT", "flow_token": "x"})
	body, _ := json.Marshal(securitytest.Tamper(t, enc))

	rec := s.do(t, http.MethodPost, "/webhook", string(body), true)
	if rec.Code != StatusDecryptionFailed {
		t.Fatalf("code = %d, want %d", rec.Code, StatusDecryptionFailed)
	}
	if c, m := s.rows(t); c != 0 || m != 0 {
		t.Errorf("rows written: clients=%d messages=%d", c, m)
	}
}

func TestRouter_FormWithForgedToken(t *testing.T) {
	s := newTestServer(t)
	client := securitytest.NewClient(s.cipher.PublicKey(), security.KDFRaw)
	enc, _ := client.Encrypt(t, map[string]any{"version": "3.0", "action": "INIT", "flow_token": "forged"})
	body, _ := json.Marshal(enc)

	if rec := s.do(t, http.MethodPost, "/webhook", string(body), true); rec.Code != StatusInvalidFlowToken {
		t.Errorf("code = %d, want %d", rec.Code, StatusInvalidFlowToken)
	}
}

func TestRouter_FormRoundTrip(t *testing.T) {
	s := newTestServer(t)
	token, err := security.NewFlowTokens("token-secret", time.Hour).Issue("79001")
	if err != nil {
		t.Fatal(err)
	}
	client := securitytest.NewClient(s.cipher.PublicKey(), security.KDFRaw)
	enc, key := client.Encrypt(t, map[string]any{"version": "3.0", "action": "INIT", "flow_token": token})
	body, _ := json.Marshal(enc)

	rec := s.do(t, http.MethodPost, "/webhook", string(body), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	plain, err := key.Open(rec.Body.String())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(plain), `"screen":"BUDGET"`) {
		t.Errorf("reply = %s", plain)
	}
}

func TestRouter_StoreUnavailable(t *testing.T) {
	s := newTestServer(t)
	sqlDB, _ := s.db.DB()
	sqlDB.Close()

	rec := s.do(t, http.MethodPost, "/webhook", textEnvelope("79001", "hi"), true)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "store unavailable") {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
	// The process keeps serving.
	if rec := s.do(t, http.MethodGet, "/health", "", false); rec.Code != http.StatusOK {
		t.Errorf("liveness = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/health/ready", "", false); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness = %d", rec.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/webhook", `{"action":"ping"}`, true)
	rec := s.do(t, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "leadline_webhook_requests_total") {
		t.Errorf("metrics code = %d", rec.Code)
	}
}
