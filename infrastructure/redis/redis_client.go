package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"grabpic/pkg/config"
)

// Client wraps the shared redis connection. It backs the short-lived
// processing-status cache and the progress pub/sub channel between the
// worker and the API websocket hub.
type Client struct {
	rdb *goredis.Client
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ProgressChannel names the per-event progress channel.
func ProgressChannel(eventID uuid.UUID) string {
	return "grabpic:progress:" + eventID.String()
}

// PublishProgress broadcasts a progress snapshot for the event. The DB
// job row stays the source of truth; subscribers only get a nudge.
func (c *Client) PublishProgress(ctx context.Context, eventID uuid.UUID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode progress payload: %w", err)
	}
	return c.rdb.Publish(ctx, ProgressChannel(eventID), raw).Err()
}

// SubscribeProgress opens a subscription on the event's progress
// channel. The caller owns the returned PubSub and must Close it.
func (c *Client) SubscribeProgress(ctx context.Context, eventID uuid.UUID) *goredis.PubSub {
	return c.rdb.Subscribe(ctx, ProgressChannel(eventID))
}

// GetCached returns the cached value and whether the key was present.
func (c *Client) GetCached(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *Client) SetCached(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}
