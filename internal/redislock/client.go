// Package redislock provides a Redis-backed core.ReloadLock so that several
// service replicas sharing one database never reload at the same time.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis connection and the lock.
type Config struct {
	URL         string
	Key         string
	TTL         time.Duration
	DialTimeout time.Duration
}

// Connect creates a client from cfg and verifies it with PING.
// Returns nil, nil when no URL is configured.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
