package main

import (
	"context"
	"os"

	"LobbyHub/global/config"
	"LobbyHub/logger"
	"LobbyHub/tools/ids"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	logger.Configure(cfg.Log.Format, cfg.Log.Level)
	ids.SetNodeID(cfg.NodeID)

	ctx, cancel := context.WithCancel(context.Background())
	app, err := build(ctx, cfg)
	if err != nil {
		cancel()
		logger.Error("build", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	app.start(ctx)
	logger.Info("lobbyhub started", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", cfg.Redis.Enabled), zap.Bool("nats", cfg.Nats.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled), zap.Bool("postgres", cfg.Postgres.Enabled))

	// one operation: the steps must run in order
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"lobbyhub": func(ctx context.Context) error {
			return app.stop(ctx, cancel)
		},
	})
	code := <-wait
	logger.Info("lobbyhub stopped", zap.Int("code", code))
	logger.Sync()
	os.Exit(code)
}
