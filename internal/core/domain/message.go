package domain

import "time"

// Sender identifies who authored a logged message.
type Sender string

const (
	SenderClient   Sender = "client"
	SenderBot      Sender = "bot"
	SenderOperator Sender = "operator"
)

// MessageKind distinguishes text from voice attachments.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
	KindForm  MessageKind = "form"
)

// VoicePlaceholder replaces voice content wherever a message is rendered as text.
const VoicePlaceholder = "[voice message]"

// Message is an append-only log entry owned by a client.
type Message struct {
	ID        uint
	ClientID  uint
	Sender    Sender
	Kind      MessageKind
	Text      string
	MediaRef  string
	CreatedAt time.Time
}

// SenderIsBot reports whether the message was sent from the service side.
func (m Message) SenderIsBot() bool {
	return m.Sender == SenderBot || m.Sender == SenderOperator
}

// Display renders the message body, substituting the voice placeholder.
func (m Message) Display() string {
	if m.Kind == KindVoice {
		return VoicePlaceholder
	}
	return m.Text
}

// InboundMessage is a normalized end-user or operator message extracted from
// a platform webhook envelope.
type InboundMessage struct {
	Platform   string
	MessageID  string
	SenderID   string
	SenderName string
	Kind       MessageKind
	Text       string
	MediaRef   string
	Form       *FormResult
}

// FormResult is the payload of a completed interactive form returned inside a
// standard message envelope.
type FormResult struct {
	FlowToken string
	Budget    string
	CarType   string
	Raw       map[string]any
}

// Lead is the summary published when a client finishes the dialog.
type Lead struct {
	Identifier string
	Name       string
	Budget     string
	CarType    string
	Source     string
}
