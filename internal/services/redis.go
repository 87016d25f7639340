package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gdg-hunt/cryptic-hunt/internal/config"
)

// RedisChecker reports Redis availability
type RedisChecker struct {
	BaseChecker
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("connected to redis", "address", cfg.Address, "db", cfg.DB)
	return client, nil
}

// NewRedisChecker wraps an existing client
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		BaseChecker: BaseChecker{name: "redis"},
		client:      client,
	}
}

// HealthCheck checks if Redis is available
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
