package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient creates and validates a Redis client connection.
func NewRedisClient(ctx context.Context, url string, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return rdb, nil
}

// OptionalRedis connects only when url is set. A nil client means the
// caller should fall back to in-memory storage.
func OptionalRedis(ctx context.Context, url string, log zerolog.Logger) (*redis.Client, error) {
	if url == "" {
		log.Info().Msg("REDIS_URL not set, using in-memory storage")
		return nil, nil
	}
	return NewRedisClient(ctx, url, log)
}
