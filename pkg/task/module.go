package task

import (
	"context"

	"sendloop-engine/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Queue names, ordered by weight. Dispatch and reconciliation ride the
// critical queue so delivery never starves behind notifications.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

var queueWeights = map[string]int{
	QueueCritical: 10,
	QueueDefault:  5,
	QueueLow:      3,
}

var Client = fx.Module("task.client",
	fx.Provide(NewClient, NewEnqueuer),
)

var Server = fx.Module("task.server",
	fx.Provide(NewServeMux),
	fx.Invoke(runServer),
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func NewClient(lc fx.Lifecycle, cfg *config.Config) (*asynq.Client, error) {
	client := asynq.NewClient(redisOpt(cfg))
	if err := client.Ping(); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

func NewServeMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

// runServer starts the asynq consumer once fx has finished wiring, which
// guarantees every handler registration ran before the first poll.
func runServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: 10,
		Queues:      queueWeights,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			zap.L().Error("task failed", zap.String("type", t.Type()), zap.Error(err))
		}),
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Start(mux); err != nil {
				return err
			}
			zap.L().Info("task server started", zap.String("redis_addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			srv.Shutdown()
			return nil
		},
	})
}
