package storage

import (
	"context"
	"time"
)

// DefaultPresenceTTL bounds how long a user stays online after the node
// holding their connection stops refreshing the key.
const DefaultPresenceTTL = 90 * time.Second

// PresenceStore tracks which users currently hold at least one live
// connection. Entries carry a TTL so a crashed node cannot leave users
// online forever; the session manager refreshes them while connections
// live. Implementations: redis.Client, memory.Client (for -dev without
// Redis).
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, ttl time.Duration) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error)
	Close() error
}
