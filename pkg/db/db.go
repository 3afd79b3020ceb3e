package db

import (
	"context"
	"fmt"
	"time"

	"sendloop-engine/pkg/config"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/prometheus"
)

const (
	openAttempts = 5
	openBackoff  = 3 * time.Second
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool),
	fx.Invoke(Metric),
)

func Dialect(cfg *config.Config) gorm.Dialector {
	c := cfg.Database
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBNAME, c.SSLMode, c.Timezone,
	)
	return postgres.Open(dsn)
}

// New opens the database, retrying briefly so the engine survives a
// postgres container that is still warming up.
func New(cfg *config.Config, dialector gorm.Dialector) (*gorm.DB, error) {
	logLevel, showSQL := logger.Info, true
	if cfg.AppEnv == "production" {
		logLevel, showSQL = logger.Warn, false
	}

	var (
		gdb *gorm.DB
		err error
	)
	for attempt := 1; ; attempt++ {
		gdb, err = gorm.Open(dialector, &gorm.Config{
			Logger: NewZapGormLogger(zap.L(), logLevel, showSQL),
		})
		if err == nil {
			break
		}
		if attempt == openAttempts {
			return nil, fmt.Errorf("open database after %d attempts: %w", attempt, err)
		}
		zap.L().Warn("database not ready, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(openBackoff)
	}

	if err := gdb.Use(otelgorm.NewPlugin()); err != nil {
		zap.L().Warn("gorm otel plugin not registered", zap.Error(err))
	}

	zap.L().Info("database connected", zap.String("db", cfg.Database.DBNAME))
	return gdb, nil
}

type connectionPoolParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
}

func RegisterConnectionPool(p connectionPoolParams) error {
	conn, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}

	cp := p.Config.Database.ConnectionPool
	conn.SetMaxIdleConns(cp.MaxIdleConn)
	conn.SetMaxOpenConns(cp.MaxOpenConn)
	conn.SetConnMaxLifetime(cp.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("closing database pool")
			return conn.Close()
		},
	})
	return nil
}

// Metric registers the gorm prometheus plugin when
// DATABASE.ENABLE_METRICS is set.
func Metric(cfg *config.Config, gdb *gorm.DB) error {
	if !cfg.Database.EnableMetrics {
		return nil
	}

	return gdb.Use(prometheus.New(prometheus.Config{
		DBName:          cfg.Database.DBNAME,
		RefreshInterval: 15,
		StartServer:     true,
		HTTPServerPort:  9090,
		MetricsCollector: []prometheus.MetricsCollector{
			&prometheus.Postgres{VariableNames: []string{"Threads_running"}},
		},
	}))
}
