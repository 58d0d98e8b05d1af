// Package memory holds process-local session and dedup stores for single
// replica deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/importauto/leadline/internal/core/ports"
)

// SessionStore keeps operator logins in process memory.
type SessionStore struct {
	mu       sync.RWMutex
	loggedIn map[string]bool
}

var _ ports.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{loggedIn: make(map[string]bool)}
}

func (s *SessionStore) IsLoggedIn(_ context.Context, operatorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn[operatorID], nil
}

func (s *SessionStore) SetLoggedIn(_ context.Context, operatorID string, loggedIn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loggedIn {
		s.loggedIn[operatorID] = true
	} else {
		delete(s.loggedIn, operatorID)
	}
	return nil
}

// maxDedupEntries caps memory use; past it the oldest ids are forgotten
// early and a late redelivery of one would be handled again.
const maxDedupEntries = 1 << 20

// DedupChecker remembers message ids for ttl in an expiring LRU.
type DedupChecker struct {
	seen *expirable.LRU[string, struct{}]
}

var _ ports.DedupChecker = (*DedupChecker)(nil)

func NewDedupChecker(ttl time.Duration) *DedupChecker {
	return newDedupChecker(ttl, maxDedupEntries)
}

func newDedupChecker(ttl time.Duration, size int) *DedupChecker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupChecker{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *DedupChecker) IsDuplicate(_ context.Context, platform, messageID string) (bool, error) {
	_, ok := d.seen.Get(dedupKey(platform, messageID))
	return ok, nil
}

func (d *DedupChecker) Mark(_ context.Context, platform, messageID string) error {
	d.seen.Add(dedupKey(platform, messageID), struct{}{})
	return nil
}

func dedupKey(platform, messageID string) string {
	return platform + ":" + messageID
}
