package services

import (
	"context"

	"github.com/redis/go-redis/v9"

	"standhub/config"
	"standhub/utils"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg *config.Config, logger *utils.Logger) *redis.Client {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to parse Redis URL", "error", err)
	}

	opt.DB = cfg.RedisDB

	client := redis.NewClient(opt)

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}

	logger.Info("Connected to Redis")
	return client
}
