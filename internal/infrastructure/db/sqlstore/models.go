package sqlstore

import (
	"time"

	"github.com/importauto/leadline/internal/core/domain"
)

type clientRow struct {
	ID                uint    `gorm:"primaryKey;autoIncrement"`
	Identifier        string  `gorm:"size:64;uniqueIndex;not null"`
	Name              string  `gorm:"size:255"`
	DialogStep        string  `gorm:"size:32;not null;default:start"`
	Status            string  `gorm:"size:32;not null;default:new;index"`
	Budget            *string `gorm:"size:32"`
	CarType           *string `gorm:"size:255"`
	ManagedByOperator bool    `gorm:"not null;default:false;index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (clientRow) TableName() string { return "clients" }

func (r clientRow) toDomain() domain.Client {
	return domain.Client{
		ID:                r.ID,
		Identifier:        r.Identifier,
		Name:              r.Name,
		DialogStep:        domain.DialogStep(r.DialogStep),
		Status:            domain.ClientStatus(r.Status),
		Budget:            r.Budget,
		CarType:           r.CarType,
		ManagedByOperator: r.ManagedByOperator,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type messageRow struct {
	ID          uint       `gorm:"primaryKey;autoIncrement"`
	ClientID    uint       `gorm:"not null;index"`
	Client      *clientRow `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE"`
	Sender      string     `gorm:"size:16;not null"`
	SenderIsBot bool       `gorm:"not null"`
	Kind        string     `gorm:"size:16;not null;default:text"`
	Text        string     `gorm:"type:text"`
	MediaRef    string     `gorm:"size:255"`
	CreatedAt   time.Time
}

func (messageRow) TableName() string { return "messages" }

func newMessageRow(clientID uint, m domain.Message) messageRow {
	kind := m.Kind
	if kind == "" {
		kind = domain.KindText
	}
	return messageRow{
		ClientID:    clientID,
		Sender:      string(m.Sender),
		SenderIsBot: m.SenderIsBot(),
		Kind:        string(kind),
		Text:        m.Text,
		MediaRef:    m.MediaRef,
	}
}

func (r messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		ClientID:  r.ClientID,
		Sender:    domain.Sender(r.Sender),
		Kind:      domain.MessageKind(r.Kind),
		Text:      r.Text,
		MediaRef:  r.MediaRef,
		CreatedAt: r.CreatedAt,
	}
}

// handoffLockID is the single row of handoff_lock.
const handoffLockID = 1

// handoffLockRow is a one-row table that takeovers lock before touching
// managed_by_operator. Row locks on clients alone do not keep two takeovers
// of different clients apart under READ COMMITTED.
type handoffLockRow struct {
	ID uint `gorm:"primaryKey;autoIncrement:false"`
}

func (handoffLockRow) TableName() string { return "handoff_lock" }
