package memory

import (
	"context"
	"sync"
	"time"
)

const defaultPresenceTTL = 90 * time.Second

// Client is an in-process PresenceStore used with -dev when Redis is not
// available.
type Client struct {
	mu     sync.RWMutex
	online map[string]time.Time
}

func New() *Client {
	return &Client{online: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOnline(ctx context.Context, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[userID] = time.Now().Add(ttl)
	return nil
}

func (c *Client) SetOffline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, userID)
	return nil
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exp, ok := c.online[userID]
	return ok && time.Now().Before(exp), nil
}

func (c *Client) OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	result := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		exp, ok := c.online[id]
		result[id] = ok && now.Before(exp)
	}
	return result, nil
}
