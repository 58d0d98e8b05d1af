package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/importauto/leadline/internal/core/ports"
)

const sessionSet = "operator:sessions"

// SessionStore keeps logged-in operator ids in a Redis set so a login
// survives restarts and is shared across replicas.
type SessionStore struct {
	client *redis.Client
}

var _ ports.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) IsLoggedIn(ctx context.Context, operatorID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, sessionSet, operatorID).Result()
	if err != nil {
		return false, fmt.Errorf("session check: %w", err)
	}
	return ok, nil
}

func (s *SessionStore) SetLoggedIn(ctx context.Context, operatorID string, loggedIn bool) error {
	var err error
	if loggedIn {
		err = s.client.SAdd(ctx, sessionSet, operatorID).Err()
	} else {
		err = s.client.SRem(ctx, sessionSet, operatorID).Err()
	}
	if err != nil {
		return fmt.Errorf("session update: %w", err)
	}
	return nil
}
