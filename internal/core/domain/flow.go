package domain

import "strconv"

// Flow actions sent by the platform inside a decrypted request.
const (
	FlowActionPing         = "ping"
	FlowActionInit         = "INIT"
	FlowActionDataExchange = "data_exchange"
	FlowActionBack         = "BACK"
)

// Screens of the car request form.
const (
	ScreenBudget  = "BUDGET"
	ScreenCarType = "CAR_TYPE"
	ScreenSuccess = "SUCCESS"
)

// FlowRequest is a decrypted interactive-form request.
type FlowRequest struct {
	Version   string         `json:"version"    validate:"required"`
	Action    string         `json:"action"     validate:"required,oneof=ping INIT data_exchange BACK"`
	Screen    string         `json:"screen,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	FlowToken string         `json:"flow_token,omitempty" validate:"required_unless=Action ping"`
}

// FlowResponse is the clear-text form of an encrypted flow response.
type FlowResponse struct {
	Version string         `json:"version,omitempty"`
	Screen  string         `json:"screen,omitempty"`
	Data    map[string]any `json:"data"`
}

// FlowPrompt is the logical content of an interactive "start form" message.
type FlowPrompt struct {
	FlowID string
	Screen string
	Header string
	Body   string
	CTA    string
	Token  string
}

// FlowSubmission records a completed form for audit.
type FlowSubmission struct {
	TokenID    string
	Identifier string
	Budget     string
	CarType    string
	Data       map[string]any
}

// FormValue reads a form field that may arrive as a JSON string or number.
// Numbers keep every digit they were sent with, so 25000.7 stays fractional
// and fails a digits check instead of rounding to 25001.
func FormValue(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
