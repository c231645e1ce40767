package repository

import (
	"context"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and pings it once so a bad address fails
// at startup instead of on the first dead-letter spill.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
