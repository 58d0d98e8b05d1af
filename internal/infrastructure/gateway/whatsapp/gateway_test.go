package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/importauto/leadline/internal/core/domain"
)

type captured struct {
	path   string
	auth   string
	body   map[string]any
	status int
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		w.WriteHeader(c.status)
		_, _ = w.Write([]byte(`{"error":{"message":"denied"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestGateway_SendText(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	g := NewGateway(Config{Token: "tok", PhoneNumberID: "123", APIBase: srv.URL + "/"}, srv.Client())

	if err := g.SendText(context.Background(), "5215550001", "hola"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.path != "/123/messages" || got.auth != "Bearer tok" {
		t.Fatalf("unexpected request path=%s auth=%s", got.path, got.auth)
	}
	if got.body["type"] != "text" || got.body["to"] != "5215550001" {
		t.Fatalf("unexpected body %v", got.body)
	}
	if text := got.body["text"].(map[string]any); text["body"] != "hola" {
		t.Fatalf("unexpected text %v", text)
	}
}

func TestGateway_SendVoice(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	g := NewGateway(Config{Token: "tok", PhoneNumberID: "123", APIBase: srv.URL}, srv.Client())

	if err := g.SendVoice(context.Background(), "1", "media-9"); err != nil {
		t.Fatalf("SendVoice: %v", err)
	}
	if audio := got.body["audio"].(map[string]any); audio["id"] != "media-9" {
		t.Fatalf("unexpected audio %v", got.body)
	}
}

func TestGateway_SendFlow(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	g := NewGateway(Config{Token: "tok", PhoneNumberID: "123", APIBase: srv.URL}, srv.Client())

	err := g.SendFlow(context.Background(), "1", domain.FlowPrompt{
		FlowID: "42", Screen: "BUDGET", Header: "Car request", Body: "Tell us more", CTA: "Open", Token: "jwt",
	})
	if err != nil {
		t.Fatalf("SendFlow: %v", err)
	}
	interactive := got.body["interactive"].(map[string]any)
	params := interactive["action"].(map[string]any)["parameters"].(map[string]any)
	if interactive["type"] != "flow" || params["flow_id"] != "42" || params["flow_token"] != "jwt" {
		t.Fatalf("unexpected interactive payload %v", interactive)
	}
	if params["flow_action_payload"].(map[string]any)["screen"] != "BUDGET" {
		t.Fatalf("entry screen missing: %v", params)
	}
}

func TestGateway_RejectedSend(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized)
	g := NewGateway(Config{Token: "bad", PhoneNumberID: "123", APIBase: srv.URL}, srv.Client())

	if err := g.SendText(context.Background(), "1", "x"); !errors.Is(err, domain.ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
}
