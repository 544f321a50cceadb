// Package redis connects to the Redis server used as the alternative
// real-time store backend. Device config documents are stored as JSON string
// values under a configurable key prefix.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
)

// ErrNotConnected is returned by HealthCheck when the server does not answer.
var ErrNotConnected = errors.New("redis: not connected")

// Client wraps a go-redis client with the configured key prefix.
type Client struct {
	rdb    *goredis.Client
	prefix string
}

// Connect parses cfg.URL, connects and pings the server.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Key returns the full Redis key for a real-time store path.
func (c *Client) Key(path string) string {
	return c.prefix + path
}

// GetJSON returns the raw value at path. found is false when the key does
// not exist.
func (c *Client) GetJSON(ctx context.Context, path string) (value []byte, found bool, err error) {
	value, err = c.rdb.Get(ctx, c.Key(path)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", path, err)
	}
	return value, true, nil
}

// SetJSON stores value at path with no expiry.
func (c *Client) SetJSON(ctx context.Context, path string, value []byte) error {
	if err := c.rdb.Set(ctx, c.Key(path), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
