// Package redis builds the go-redis client used by the presence mirror.
package redis

import (
	"context"
	"time"

	"LobbyHub/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 3 * time.Second
	ioTimeout   = 2 * time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int // 0 => go-redis default
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  pingTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		// fail fast when the pool is exhausted
		PoolTimeout: ioTimeout,
	}
}

// NewClient connects and pings once. The client is closed on failure.
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, errs.ErrArgs.WrapMsg("redis: addr is required")
	}
	rdb := redis.NewClient(c.options())
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr, "db", c.DB)
	}
	return rdb, nil
}
