package redis

import (
	"context"
	"fmt"
	"time"

	"sendloop-engine/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	pingAttempts = 5
	pingBackoff  = 3 * time.Second
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

func New(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		PoolTimeout: cfg.Redis.PoolTimeout,
	})

	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = rdb.Ping(context.Background()).Err(); err == nil {
			break
		}
		zap.L().Warn("redis not ready, retrying",
			zap.String("addr", cfg.Redis.Addr),
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(pingBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}

	zap.L().Info("redis connected",
		zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}
