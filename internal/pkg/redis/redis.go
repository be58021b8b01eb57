package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CancellationChannel carries execution IDs of runs that should stop.
const CancellationChannel = "conductor:execution:cancel"

type Client struct {
	*redis.Client
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr()).Msg("Redis connected successfully")

	return &Client{client}, nil
}

// PublishCancellation broadcasts a cancel request so every engine instance
// can interrupt the run if it owns it.
func (c *Client) PublishCancellation(ctx context.Context, executionID string) error {
	return c.Publish(ctx, CancellationChannel, executionID).Err()
}

func (c *Client) SubscribeCancellations(ctx context.Context) *redis.PubSub {
	return c.Subscribe(ctx, CancellationChannel)
}

// AcquireLock takes a lease used to keep publishes of one workflow
// single-flight across instances.
func (c *Client) AcquireLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) ReleaseLock(ctx context.Context, key string, value string) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	return script.Run(ctx, c.Client, []string{key}, value).Err()
}
