package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

const (
	budgetDigitsError = "Please enter the budget using digits only."
	carTypeError      = "Please choose a body type."
)

// FlowService is the screen router for the encrypted car-request form.
// It never touches the conversation store; the finished form reaches the
// dialog later as a completed-form message.
type FlowService struct {
	tokens      ports.FlowTokenIssuer
	submissions ports.FlowSubmissionRepository
	log         zerolog.Logger
}

var _ ports.FlowService = (*FlowService)(nil)

// NewFlowService wires the router. submissions may be nil.
func NewFlowService(tokens ports.FlowTokenIssuer, submissions ports.FlowSubmissionRepository, log zerolog.Logger) *FlowService {
	return &FlowService{tokens: tokens, submissions: submissions, log: log}
}

func (s *FlowService) Exchange(ctx context.Context, req domain.FlowRequest) (domain.FlowResponse, error) {
	if req.Action == domain.FlowActionPing {
		return domain.FlowResponse{Version: req.Version, Data: map[string]any{"status": "active"}}, nil
	}

	// The platform reports client-side form errors; they only need an ack.
	if _, ok := req.Data["error"]; ok {
		s.log.Warn().Interface("error", req.Data["error"]).Str("screen", req.Screen).Msg("flow client error")
		return domain.FlowResponse{Version: req.Version, Data: map[string]any{"acknowledged": true}}, nil
	}

	claims, err := s.tokens.Verify(req.FlowToken)
	if err != nil {
		return domain.FlowResponse{}, err
	}

	switch req.Action {
	case domain.FlowActionInit:
		return screen(req, domain.ScreenBudget, map[string]any{}), nil
	case domain.FlowActionBack:
		return screen(req, domain.ScreenBudget, map[string]any{"budget": domain.FormValue(req.Data, "budget")}), nil
	case domain.FlowActionDataExchange:
		return s.dataExchange(ctx, req, claims)
	}
	return domain.FlowResponse{}, fmt.Errorf("%w: unknown action %q", domain.ErrMalformedPayload, req.Action)
}

func (s *FlowService) dataExchange(ctx context.Context, req domain.FlowRequest, claims ports.FlowTokenClaims) (domain.FlowResponse, error) {
	budget := domain.NormalizeInput(domain.FormValue(req.Data, "budget"))

	switch req.Screen {
	case domain.ScreenBudget:
		if !domain.IsDigits(budget) {
			return screen(req, domain.ScreenBudget, map[string]any{"error_message": budgetDigitsError}), nil
		}
		return screen(req, domain.ScreenCarType, map[string]any{"budget": budget}), nil

	case domain.ScreenCarType:
		carType := strings.TrimSpace(domain.FormValue(req.Data, "car_type"))
		if !domain.IsDigits(budget) {
			return screen(req, domain.ScreenBudget, map[string]any{"error_message": budgetDigitsError}), nil
		}
		if carType == "" {
			return screen(req, domain.ScreenCarType, map[string]any{"budget": budget, "error_message": carTypeError}), nil
		}

		if s.submissions != nil {
			sub := domain.FlowSubmission{
				TokenID:    claims.TokenID,
				Identifier: claims.Identifier,
				Budget:     budget,
				CarType:    carType,
				Data:       req.Data,
			}
			if err := s.submissions.Save(ctx, sub); err != nil {
				// The dialog still completes from the form reply message.
				s.log.Warn().Err(err).Str("client", claims.Identifier).Msg("store flow submission")
			}
		}
		s.log.Info().Str("client", claims.Identifier).Msg("flow form completed")
		return screen(req, domain.ScreenSuccess, map[string]any{
			"extension_message_response": map[string]any{
				"params": map[string]any{
					"flow_token": req.FlowToken,
					"budget":     budget,
					"car_type":   carType,
				},
			},
		}), nil
	}
	return domain.FlowResponse{}, fmt.Errorf("%w: unknown screen %q", domain.ErrMalformedPayload, req.Screen)
}

func screen(req domain.FlowRequest, name string, data map[string]any) domain.FlowResponse {
	return domain.FlowResponse{Version: req.Version, Screen: name, Data: data}
}
