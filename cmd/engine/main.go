package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sendloop-engine/pkg/config"
	"sendloop-engine/pkg/db"
	"sendloop-engine/pkg/health"
	"sendloop-engine/pkg/logger"
	"sendloop-engine/pkg/redis"
	"sendloop-engine/pkg/sequence"
	"sendloop-engine/pkg/server"
	"sendloop-engine/pkg/task"
	"sendloop-engine/services/campaign"
	"sendloop-engine/services/contact"
	"sendloop-engine/services/notification"
	"sendloop-engine/services/pricing"
	"sendloop-engine/services/template"
	"sendloop-engine/services/wallet"
)

// engine is the REST-facing process: campaign lifecycle, wallet and the
// delivery webhook. Background work runs in cmd/dispatcher.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(migrate),

		pricing.Module,
		wallet.Module,
		template.Module,
		contact.Module,
		notification.Module,
		campaign.Module,

		server.Module,
		health.Module,
		wallet.Routes,
		campaign.Routes,
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
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&wallet.Wallet{},
		&wallet.Transaction{},
		&template.Template{},
		&contact.Contact{},
		&campaign.Campaign{},
		&campaign.Message{},
	)
}
