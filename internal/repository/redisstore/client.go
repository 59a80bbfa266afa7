package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// ClientConfig describes how to reach Redis. Addr is either host:port or a
// redis:// URL; Password and DB, when set, override the URL.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c ClientConfig) options() (*redis.Options, error) {
	opts := &redis.Options{Addr: c.Addr}
	if strings.Contains(c.Addr, "://") {
		parsed, err := redis.ParseURL(c.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if c.Password != "" {
		opts.Password = c.Password
	}
	if c.DB != 0 {
		opts.DB = c.DB
	}
	return opts, nil
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
