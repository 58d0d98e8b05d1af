package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/importauto/leadline/internal/core/ports"
)

const dedupTTL = 24 * time.Hour

// DedupChecker provides idempotency checks backed by Redis.
// Key format: dedup:<platform>:<message_id>
type DedupChecker struct {
	client *redis.Client
}

var _ ports.DedupChecker = (*DedupChecker)(nil)

// NewDedupChecker creates a DedupChecker wrapping the given Redis client.
func NewDedupChecker(client *redis.Client) *DedupChecker {
	return &DedupChecker{client: client}
}

// IsDuplicate reports whether this platform message has already been handled.
func (d *DedupChecker) IsDuplicate(ctx context.Context, platform, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(platform, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records that this message has been handled (expires after dedupTTL).
func (d *DedupChecker) Mark(ctx context.Context, platform, messageID string) error {
	return d.client.Set(ctx, d.key(platform, messageID), "1", dedupTTL).Err()
}

func (d *DedupChecker) key(platform, messageID string) string {
	return fmt.Sprintf("dedup:%s:%s", platform, messageID)
}
