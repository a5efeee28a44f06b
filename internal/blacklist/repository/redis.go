package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "budget:blacklist:"

// RedisRepository stores each jti as a key that expires with the access token.
type RedisRepository struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisRepository returns a blacklist on rdb.
func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb, now: time.Now}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *RedisRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := r.rdb.SetNX(ctx, redisKeyPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist.redis.Add: %w", err)
	}
	return nil
}

func (r *RedisRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	err := r.rdb.Get(ctx, redisKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blacklist.redis.IsBlacklisted: %w", err)
	}
	return true, nil
}

// PurgeExpired is a no-op: Redis expires keys on its own.
func (r *RedisRepository) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
