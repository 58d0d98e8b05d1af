package ports

import "context"

// SessionStore tracks which operator identities are logged in.
type SessionStore interface {
	IsLoggedIn(ctx context.Context, operatorID string) (bool, error)
	SetLoggedIn(ctx context.Context, operatorID string, loggedIn bool) error
}

// DedupChecker remembers platform message ids already handled, so webhook
// redeliveries are not applied twice.
type DedupChecker interface {
	IsDuplicate(ctx context.Context, platform, messageID string) (bool, error)
	Mark(ctx context.Context, platform, messageID string) error
}

// Serializer runs fn with every other call sharing the same key excluded.
type Serializer interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
