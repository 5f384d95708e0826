package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// presenceTTL is the heartbeat window: a visitor with no presence
// refresh inside it counts as offline.
const presenceTTL = 2 * time.Minute

// PresenceTracker keeps per-visitor online markers in Redis with a TTL,
// so a vanished widget goes offline without an explicit signal.
type PresenceTracker struct {
	client *redis.Client
}

// NewPresenceTracker wraps an existing Redis client.
func NewPresenceTracker(client *redis.Client) *PresenceTracker {
	return &PresenceTracker{client: client}
}

func presenceKey(websiteID, visitorID string) string {
	return fmt.Sprintf("presence:%s:%s", websiteID, visitorID)
}

// MarkOnline records the visitor as online, refreshing the TTL. It
// returns true if the visitor was previously offline (the transition
// callers publish a presence event for).
func (t *PresenceTracker) MarkOnline(ctx context.Context, websiteID, visitorID string) (bool, error) {
	key := presenceKey(websiteID, visitorID)

	created, err := t.client.SetNX(ctx, key, "1", presenceTTL).Result()
	if err != nil {
		return false, err
	}
	if !created {
		// Already online: just refresh the heartbeat.
		if err := t.client.Expire(ctx, key, presenceTTL).Err(); err != nil {
			return false, err
		}
	}
	return created, nil
}

// MarkOffline clears the visitor's presence marker. It returns true if
// the visitor was online.
func (t *PresenceTracker) MarkOffline(ctx context.Context, websiteID, visitorID string) (bool, error) {
	removed, err := t.client.Del(ctx, presenceKey(websiteID, visitorID)).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// Ping reports whether the backing Redis is reachable.
func (t *PresenceTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// IsOnline reports whether the visitor currently holds a live marker.
func (t *PresenceTracker) IsOnline(ctx context.Context, websiteID, visitorID string) (bool, error) {
	exists, err := t.client.Exists(ctx, presenceKey(websiteID, visitorID)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
