package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		EnableMetrics  bool   `mapstructure:"ENABLE_METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConn     int           `mapstructure:"MAX_OPEN_CONN"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Campaign struct {
		GracePeriod       time.Duration `mapstructure:"GRACE_PERIOD"`
		DispatchBatchSize int           `mapstructure:"DISPATCH_BATCH_SIZE"`
		SendConcurrency   int           `mapstructure:"SEND_CONCURRENCY"`
	} `mapstructure:"CAMPAIGN"`
	Pricing struct {
		Currency string `mapstructure:"CURRENCY"`
	} `mapstructure:"PRICING"`
}

// GracePeriod returns the configured cancellation grace window,
// falling back to the platform default of one minute.
func (c *Config) GracePeriod() time.Duration {
	if c.Campaign.GracePeriod > 0 {
		return c.Campaign.GracePeriod
	}
	return time.Minute
}

func (c *Config) DispatchBatchSize() int {
	if c.Campaign.DispatchBatchSize > 0 {
		return c.Campaign.DispatchBatchSize
	}
	return 25
}

func (c *Config) SendConcurrency() int {
	if c.Campaign.SendConcurrency > 0 {
		return c.Campaign.SendConcurrency
	}
	return 4
}

func (c *Config) Currency() string {
	if c.Pricing.Currency != "" {
		return c.Pricing.Currency
	}
	return "INR"
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config file", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}
