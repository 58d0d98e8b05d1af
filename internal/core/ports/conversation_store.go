package ports

import (
	"context"

	"github.com/importauto/leadline/internal/core/domain"
)

// Exchange is what one inbound message does to a client: the row update and
// the messages to append, in order.
type Exchange struct {
	Update   domain.ClientUpdate
	Messages []domain.Message
}

// ExchangeFunc computes an Exchange from the locked, current client row.
type ExchangeFunc func(c domain.Client) (Exchange, error)

// ConversationStore persists clients and their message log.
//
// Every method that fails for infrastructure reasons returns an error wrapping
// domain.ErrStoreUnavailable.
type ConversationStore interface {
	// Converse loads the client identified by identifier under a row lock,
	// creating it with name when absent, calls fn and persists the returned
	// exchange in the same transaction. It returns the client as committed.
	Converse(ctx context.Context, identifier, name string, fn ExchangeFunc) (domain.Client, error)

	FindClient(ctx context.Context, identifier string) (domain.Client, error)
	RecentClients(ctx context.Context, limit int) ([]domain.Client, error)
	// History returns up to limit most recent messages, oldest first.
	History(ctx context.Context, identifier string, limit int) ([]domain.Message, error)
	AppendMessage(ctx context.Context, clientID uint, msg domain.Message) error

	// Takeover atomically clears managed_by_operator on every client and sets
	// it on identifier. It fails with domain.ErrClientNotFound without
	// touching any row when identifier is unknown.
	Takeover(ctx context.Context, identifier string) (domain.Client, error)
	// Release clears managed_by_operator on identifier. A finished dialog is
	// reset so the next message starts a new session.
	Release(ctx context.Context, identifier string) (domain.Client, error)
	// ManagedClient returns the client under operator control, or
	// domain.ErrNoActiveChat.
	ManagedClient(ctx context.Context) (domain.Client, error)

	Stats(ctx context.Context) (domain.ClientStats, error)
	Ping(ctx context.Context) error
}
