// Package mongoutil opens MongoDB connections with bounded retries.
package mongoutil

import (
	"context"
	"time"

	"LobbyHub/logger"
	"LobbyHub/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const serverSelectTimeout = 10 * time.Second

// Config describes one database. Either Uri or Address must be set.
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
	MaxRetry    int
}

// Client owns the driver client and the selected database.
type Client struct {
	cli *mongo.Client
	db  *mongo.Database
}

func (c *Client) GetDB() *mongo.Database { return c.db }

func (c *Client) Close(ctx context.Context) error { return c.cli.Disconnect(ctx) }

func (c *Config) clientOptions() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(c.Uri).
		SetAppName("lobbyhub").
		SetMaxPoolSize(uint64(c.MaxPoolSize)).
		SetServerSelectionTimeout(serverSelectTimeout).
		SetRetryWrites(true)
	// explicit credentials win over any in the URI
	if c.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   c.Username,
			Password:   c.Password,
			AuthSource: c.AuthSource,
		})
	}
	return opts
}

// NewMongoDB validates config, then connects and pings. Transient failures
// are retried up to MaxRetry times with jittered exponential backoff.
func NewMongoDB(ctx context.Context, config *Config) (*Client, error) {
	if err := config.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	opts := config.clientOptions()

	var lastErr error
	for attempt := 0; attempt < config.MaxRetry; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt - 1)
			logger.Warn("mongo: connect failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(lastErr))
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, errs.WrapMsg(err, "mongo: connect canceled", "database", config.Database)
			}
		}
		cli, err := dialAndPing(ctx, opts)
		if err == nil {
			return &Client{cli: cli, db: cli.Database(config.Database)}, nil
		}
		lastErr = err
		if !shouldRetry(ctx, err) {
			break
		}
	}
	return nil, errs.WrapMsg(lastErr, "mongo: connect", "database", config.Database, "attempts", config.MaxRetry)
}

func dialAndPing(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
