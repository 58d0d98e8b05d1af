package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/core/domain"
)

type stubSubmissions struct {
	saved []domain.FlowSubmission
	err   error
}

func (s *stubSubmissions) Save(_ context.Context, sub domain.FlowSubmission) error {
	s.saved = append(s.saved, sub)
	return s.err
}

func flowReq(action, screen string, data map[string]any) domain.FlowRequest {
	return domain.FlowRequest{Version: "3.0", Action: action, Screen: screen, Data: data, FlowToken: "token-for-79001"}
}

func TestFlowExchange_Ping(t *testing.T) {
	svc := NewFlowService(&stubTokens{}, nil, zerolog.Nop())
	resp, err := svc.Exchange(context.Background(), domain.FlowRequest{Version: "3.0", Action: domain.FlowActionPing})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data["status"] != "active" {
		t.Errorf("ping data = %v", resp.Data)
	}
}

func TestFlowExchange_ClientErrorIsAcknowledged(t *testing.T) {
	svc := NewFlowService(&stubTokens{}, nil, zerolog.Nop())
	req := flowReq(domain.FlowActionDataExchange, domain.ScreenBudget, map[string]any{"error": "timeout"})
	req.FlowToken = "garbage"
	resp, err := svc.Exchange(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data["acknowledged"] != true {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestFlowExchange_Screens(t *testing.T) {
	svc := NewFlowService(&stubTokens{}, nil, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name   string
		req    domain.FlowRequest
		screen string
		check  func(map[string]any) bool
	}{
		{
			"init opens budget",
			flowReq(domain.FlowActionInit, "", nil),
			domain.ScreenBudget,
			func(d map[string]any) bool { return len(d) == 0 },
		},
		{
			"digits advance",
			flowReq(domain.FlowActionDataExchange, domain.ScreenBudget, map[string]any{"budget": " 25000 "}),
			domain.ScreenCarType,
			func(d map[string]any) bool { return d["budget"] == "25000" },
		},
		{
			"numeric json budget",
			flowReq(domain.FlowActionDataExchange, domain.ScreenBudget, map[string]any{"budget": float64(18000)}),
			domain.ScreenCarType,
			func(d map[string]any) bool { return d["budget"] == "18000" },
		},
		{
			"fractional json budget stays",
			flowReq(domain.FlowActionDataExchange, domain.ScreenBudget, map[string]any{"budget": 25000.7}),
			domain.ScreenBudget,
			func(d map[string]any) bool { return d["error_message"] == budgetDigitsError && d["budget"] == nil },
		},
		{
			"fractional budget on car type goes back",
			flowReq(domain.FlowActionDataExchange, domain.ScreenCarType, map[string]any{"budget": 99.5, "car_type": "sedan"}),
			domain.ScreenBudget,
			func(d map[string]any) bool { return d["error_message"] == budgetDigitsError },
		},
		{
			"non-digit budget stays",
			flowReq(domain.FlowActionDataExchange, domain.ScreenBudget, map[string]any{"budget": "a lot"}),
			domain.ScreenBudget,
			func(d map[string]any) bool { return d["error_message"] == budgetDigitsError },
		},
		{
			"empty car type stays",
			flowReq(domain.FlowActionDataExchange, domain.ScreenCarType, map[string]any{"budget": "25000", "car_type": " "}),
			domain.ScreenCarType,
			func(d map[string]any) bool { return d["error_message"] == carTypeError },
		},
		{
			"back keeps budget",
			flowReq(domain.FlowActionBack, domain.ScreenCarType, map[string]any{"budget": "25000"}),
			domain.ScreenBudget,
			func(d map[string]any) bool { return d["budget"] == "25000" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Exchange(ctx, tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Screen != tt.screen || resp.Version != "3.0" || !tt.check(resp.Data) {
				t.Errorf("resp = %+v, want screen %s", resp, tt.screen)
			}
		})
	}
}

func TestFlowExchange_Complete(t *testing.T) {
	subs := &stubSubmissions{}
	svc := NewFlowService(&stubTokens{}, subs, zerolog.Nop())
	req := flowReq(domain.FlowActionDataExchange, domain.ScreenCarType, map[string]any{"budget": "25000", "car_type": "Sedan"})

	resp, err := svc.Exchange(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Screen != domain.ScreenSuccess {
		t.Fatalf("screen = %s", resp.Screen)
	}
	params := resp.Data["extension_message_response"].(map[string]any)["params"].(map[string]any)
	if params["flow_token"] != "token-for-79001" || params["budget"] != "25000" || params["car_type"] != "Sedan" {
		t.Errorf("params = %v", params)
	}
	if len(subs.saved) != 1 || subs.saved[0].Identifier != "79001" || subs.saved[0].TokenID != "jti-79001" {
		t.Errorf("saved = %+v", subs.saved)
	}
}

func TestFlowExchange_SubmissionFailureStillCompletes(t *testing.T) {
	subs := &stubSubmissions{err: errors.New("mongo down")}
	svc := NewFlowService(&stubTokens{}, subs, zerolog.Nop())
	req := flowReq(domain.FlowActionDataExchange, domain.ScreenCarType, map[string]any{"budget": "25000", "car_type": "Sedan"})

	resp, err := svc.Exchange(context.Background(), req)
	if err != nil || resp.Screen != domain.ScreenSuccess {
		t.Errorf("resp = %+v, err = %v", resp, err)
	}
}

func TestFlowExchange_Rejections(t *testing.T) {
	svc := NewFlowService(&stubTokens{}, nil, zerolog.Nop())
	ctx := context.Background()

	bad := flowReq(domain.FlowActionInit, "", nil)
	bad.FlowToken = "forged"
	if _, err := svc.Exchange(ctx, bad); !errors.Is(err, domain.ErrInvalidFlowToken) {
		t.Errorf("forged token err = %v", err)
	}

	if _, err := svc.Exchange(ctx, flowReq(domain.FlowActionDataExchange, "PAYMENT", nil)); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("unknown screen err = %v", err)
	}
	if _, err := svc.Exchange(ctx, flowReq("navigate", "", nil)); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("unknown action err = %v", err)
	}
}
