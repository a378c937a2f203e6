package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig contains Redis connection configuration.
type ClientConfig struct {
	// URL - full connection URL (redis://...). When set it wins over the
	// individual fields.
	URL string

	// Host - Redis host (default "localhost").
	Host string

	// Port - Redis port (default 6379).
	Port int

	// Password - Redis password (empty for no auth).
	Password string

	// DB - Redis database number.
	DB int

	// DialTimeout - timeout for establishing a connection.
	DialTimeout time.Duration

	// ReadTimeout - timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout - timeout for socket writes.
	WriteTimeout time.Duration

	// PoolSize - maximum number of socket connections.
	PoolSize int
}

// DefaultClientConfig returns default connection configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:         "localhost",
		Port:         6379,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// Connect creates a Redis client and verifies it with a ping.
func Connect(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}
