package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"sendloop-engine/pkg/config"
	"sendloop-engine/pkg/db"
	"sendloop-engine/pkg/logger"
	"sendloop-engine/pkg/redis"
	"sendloop-engine/pkg/sequence"
	"sendloop-engine/pkg/task"
	"sendloop-engine/services/campaign"
	"sendloop-engine/services/contact"
	"sendloop-engine/services/dispatch"
	"sendloop-engine/services/notification"
	"sendloop-engine/services/pricing"
	"sendloop-engine/services/template"
	"sendloop-engine/services/wallet"
)

// dispatcher is the background process: it consumes dispatch, activation,
// reconcile and notification tasks off the queue.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		sequence.Module,
		fx.Provide(provideSnowflakeNode),

		pricing.Module,
		wallet.Module,
		template.Module,
		contact.Module,
		notification.Module,
		campaign.Module,
		dispatch.Module,
		dispatch.Handlers,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
