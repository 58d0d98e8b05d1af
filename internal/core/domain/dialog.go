package domain

import "strings"

// ReplyKey names a reply in the bot's reply catalogue.
type ReplyKey string

const (
	ReplyGreeting     ReplyKey = "greeting"
	ReplyAskBudget    ReplyKey = "ask_budget"
	ReplyDeclined     ReplyKey = "declined"
	ReplyBudgetDigits ReplyKey = "budget_digits"
	ReplyAskCarType   ReplyKey = "ask_car_type"
	ReplyConfirmed    ReplyKey = "confirmed"
	ReplyAlreadyDone  ReplyKey = "already_done"
	ReplyTextOnly     ReplyKey = "text_only"
)

// confirmWord is the only answer that moves ask_confirm forward.
const confirmWord = "yes"

// Transition is the outcome of feeding one input to the dialog.
type Transition struct {
	From    DialogStep
	Next    DialogStep
	Reply   ReplyKey
	Budget  *string
	CarType *string
}

// Completed reports whether this transition finished the dialog.
func (t Transition) Completed() bool {
	return t.From != StepDone && t.Next == StepDone
}

// Update converts the transition into the row changes it implies.
func (t Transition) Update() ClientUpdate {
	var u ClientUpdate
	if t.Next != t.From {
		next := t.Next
		u.DialogStep = &next
	}
	u.Budget = t.Budget
	u.CarType = t.CarType
	return u
}

// NormalizeInput trims and lower-cases user text for matching.
func NormalizeInput(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Advance applies one text input to the client's dialog. It is total: every
// (step, input) pair yields exactly one transition, and it has no side
// effects. Budget and car type are only proposed while still unset.
func Advance(c Client, text string) Transition {
	from := c.DialogStep
	if !from.Valid() {
		from = StepStart
	}
	input := NormalizeInput(text)
	t := Transition{From: from, Next: from}

	switch from {
	case StepStart:
		t.Next = StepAskConfirm
		t.Reply = ReplyGreeting
	case StepAskConfirm:
		if input == confirmWord {
			t.Next = StepAwaitBudget
			t.Reply = ReplyAskBudget
		} else {
			t.Next = StepStart
			t.Reply = ReplyDeclined
		}
	case StepAwaitBudget:
		if IsDigits(input) {
			t.Next = StepAwaitCarType
			t.Reply = ReplyAskCarType
			if c.Budget == nil {
				t.Budget = &input
			}
		} else {
			t.Reply = ReplyBudgetDigits
		}
	case StepAwaitCarType:
		t.Next = StepDone
		t.Reply = ReplyConfirmed
		if c.CarType == nil {
			carType := strings.TrimSpace(text)
			t.CarType = &carType
		}
	case StepDone:
		t.Reply = ReplyAlreadyDone
	}
	return t
}

// AdvanceVoice handles a voice message while the bot drives the dialog. Voice
// carries no answer, so the step never changes.
func AdvanceVoice(c Client) Transition {
	from := c.DialogStep
	if !from.Valid() {
		from = StepStart
	}
	reply := ReplyTextOnly
	if from == StepDone {
		reply = ReplyAlreadyDone
	}
	return Transition{From: from, Next: from, Reply: reply}
}

// CompleteWithForm applies a submitted form that answers every remaining
// question at once. Values already stored in the session win over the form.
func CompleteWithForm(c Client, form FormResult) (Transition, error) {
	from := c.DialogStep
	if !from.Valid() {
		from = StepStart
	}
	if from == StepDone {
		return Transition{From: from, Next: from, Reply: ReplyAlreadyDone}, nil
	}

	budget := NormalizeInput(form.Budget)
	carType := strings.TrimSpace(form.CarType)
	if (c.Budget == nil && !IsDigits(budget)) || (c.CarType == nil && carType == "") {
		return Transition{}, ErrMalformedWebhook
	}

	t := Transition{From: from, Next: StepDone, Reply: ReplyConfirmed}
	if c.Budget == nil {
		t.Budget = &budget
	}
	if c.CarType == nil {
		t.CarType = &carType
	}
	return t, nil
}

// Apply returns a copy of c with the update applied.
func (c Client) Apply(u ClientUpdate) Client {
	if u.DialogStep != nil {
		c.DialogStep = *u.DialogStep
		c.Status = u.DialogStep.Status()
	}
	if u.Budget != nil {
		v := *u.Budget
		c.Budget = &v
	}
	if u.CarType != nil {
		v := *u.CarType
		c.CarType = &v
	}
	return c
}
