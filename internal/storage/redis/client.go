package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsvc/internal/storage"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetOnline marks the user online under presence:{userID} with a TTL; the
// caller refreshes the key while the connection lives.
func (c *Client) SetOnline(ctx context.Context, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = storage.DefaultPresenceTTL
	}
	return c.cli.Set(ctx, "presence:"+userID, "1", ttl).Err()
}

// SetOffline drops the presence key as soon as the last connection closes.
func (c *Client) SetOffline(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, "presence:"+userID).Err()
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.cli.Exists(ctx, "presence:"+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineSet resolves presence for a batch of users in one round trip.
func (c *Client) OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	pipe := c.cli.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Exists(ctx, "presence:"+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for i, id := range userIDs {
		result[id] = cmds[i].Val() > 0
	}
	return result, nil
}
