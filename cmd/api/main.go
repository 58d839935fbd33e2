package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"backend-skeleton/internal/app"
	"backend-skeleton/internal/config"
	"backend-skeleton/internal/infrastructure/cache"
	"backend-skeleton/internal/infrastructure/db"
	"backend-skeleton/internal/infrastructure/logger"
)

// env files live in config/.env.<mode>
const envDir = "config"

func main() { os.Exit(run()) }

// bootLogger reports failures that happen before the configured logger
// exists. It follows the same test-mode silence.
func bootLogger() *zap.Logger {
	boot, err := logger.New(logger.Options{Silent: config.RunMode() == config.EnvTest})
	if err != nil {
		return zap.NewNop()
	}
	return boot
}

// openRedis returns nil when Redis is not configured. An unreachable server
// is not fatal: the lazy client is kept so the health probe can report it.
func openRedis(ctx context.Context, cfg *config.Config, log *zap.Logger) *cache.Redis {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb, err := cache.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Warn("Redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return cache.NewRedis(cfg.RedisAddr, cfg.RedisDB)
	}
	log.Info("Redis connected", zap.String("addr", rdb.Addr()))
	return rdb
}

func run() int {
	boot := bootLogger()

	if err := config.LoadEnvFiles(envDir, config.RunMode()); err != nil {
		boot.Error("Failed to load environment files", zap.Error(err))
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	log, err := logger.New(logger.FromConfig(cfg))
	if err != nil {
		boot.Error("Failed to build logger", zap.Error(err))
		return 1
	}
	defer func() { _ = log.Sync() }()

	dial, err := db.Dialector(cfg.DatabaseURI)
	if err != nil {
		log.Error("Invalid database URI", zap.Error(err))
		return 1
	}
	manager := db.Shared(dial, log, db.WithGormLogger(logger.NewGorm(log)))

	rdb := openRedis(context.Background(), cfg, log)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := app.New(cfg, log, manager, rdb).Run(context.Background(), sigs); err != nil {
		return 1
	}
	return 0
}
