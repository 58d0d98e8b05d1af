package domain

import "time"

// DialogStep is the position of a client inside the lead-qualification dialog.
type DialogStep string

const (
	StepStart        DialogStep = "start"
	StepAskConfirm   DialogStep = "ask_confirm"
	StepAwaitBudget  DialogStep = "await_budget"
	StepAwaitCarType DialogStep = "await_car_type"
	StepDone         DialogStep = "done"
)

// ClientStatus is the coarse lifecycle of a lead, derived from its DialogStep.
type ClientStatus string

const (
	StatusNew        ClientStatus = "new"
	StatusInProgress ClientStatus = "in_progress"
	StatusCompleted  ClientStatus = "completed"
)

// Status derives the client status from the dialog step.
func (s DialogStep) Status() ClientStatus {
	switch s {
	case StepStart, "":
		return StatusNew
	case StepDone:
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// Valid reports whether s is one of the known dialog steps.
func (s DialogStep) Valid() bool {
	switch s {
	case StepStart, StepAskConfirm, StepAwaitBudget, StepAwaitCarType, StepDone:
		return true
	}
	return false
}

// Client is one end-user conversation, keyed by the platform identifier
// (phone number or chat id).
type Client struct {
	ID                uint
	Identifier        string
	Name              string
	DialogStep        DialogStep
	Status            ClientStatus
	Budget            *string
	CarType           *string
	ManagedByOperator bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DisplayName falls back to the identifier when the platform sent no name.
func (c Client) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Identifier
}

// ClientUpdate carries the fields an exchange changes on the client row.
// Nil fields are left untouched.
type ClientUpdate struct {
	DialogStep *DialogStep
	Budget     *string
	CarType    *string
}

// Empty reports whether the update changes nothing.
func (u ClientUpdate) Empty() bool {
	return u.DialogStep == nil && u.Budget == nil && u.CarType == nil
}

// ClientStats is a point-in-time aggregate used for gauges.
type ClientStats struct {
	ByStatus map[ClientStatus]int64
	Managed  int64
}
