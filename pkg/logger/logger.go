package logger

import (
	"sendloop-engine/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// New builds the process-wide logger and installs it as the zap global.
// Development gets the console encoder; production emits JSON on stdout.
func New(p ConfigParams) *zap.Logger {
	var log *zap.Logger
	if p.Cfg.AppEnv == "production" {
		log = zap.Must(productionConfig().Build())
	} else {
		log = zap.Must(zap.NewDevelopment())
	}

	log = log.With(
		zap.String("env", p.Cfg.AppEnv),
		zap.String("service_name", p.Cfg.AppName),
	)
	zap.ReplaceGlobals(log)

	return log
}

func productionConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	enc := &cfg.EncoderConfig
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.LevelKey = "severity"
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = "caller"
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.StacktraceKey = "stacktrace"

	return cfg
}
