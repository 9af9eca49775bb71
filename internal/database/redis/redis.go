// Package redis owns the single Redis client of the process, used as the
// optional durable cache tier.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/yann6182/Projet-chat-back/internal/config"
)

var (
	client  *redis.Client
	once    sync.Once
	initErr error
)

// GetClient initializes and returns the Redis client. The connection is
// established once for the whole process lifetime.
func GetClient(cfg *config.RedisConfig) (*redis.Client, error) {
	once.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		if err := rdb.Ping(context.Background()).Err(); err != nil {
			initErr = fmt.Errorf("cannot connect to Redis: %w", err)
			return
		}
		client = rdb
	})

	return client, initErr
}

// Close shuts down the shared client.
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// HealthCheck pings the server.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return client.Ping(ctx).Err()
}
