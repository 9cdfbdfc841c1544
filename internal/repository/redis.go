package repository

import (
	"context"
	"fmt"

	"github.com/cemetery-system/payment-service/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the Redis instance backing the distributed payment lock.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return rdb, nil
}
