package blocklist

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "warden:blocklist:"

// RedisConfig contains Redis blocklist configuration.
type RedisConfig struct {
	// Addr is the Redis host:port.
	Addr string

	// Password is optional.
	Password string

	// DB selects the Redis logical database.
	DB int
}

// Redis is a Checker backed by a shared Redis instance, so every proxy
// replica sees the same blocklist.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg *RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("blocklist: redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Contains reports whether ip is blocked.
func (r *Redis) Contains(ctx context.Context, ip string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist: exists: %w", err)
	}
	return n > 0, nil
}

// Block adds ip for ttl. Redis treats a zero expiration as persistent,
// matching the Checker contract.
func (r *Redis) Block(ctx context.Context, ip string, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+ip, "1", ttl).Err(); err != nil {
		return fmt.Errorf("blocklist: set: %w", err)
	}
	return nil
}

// Unblock removes ip.
func (r *Redis) Unblock(ctx context.Context, ip string) error {
	if err := r.client.Del(ctx, keyPrefix+ip).Err(); err != nil {
		return fmt.Errorf("blocklist: del: %w", err)
	}
	return nil
}

// Close shuts the Redis client down.
func (r *Redis) Close() error { return r.client.Close() }
