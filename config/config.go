// Package config loads service configuration from a YAML file and CHRONICLE_*
// environment variables, with working defaults for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log       Log       `mapstructure:"log"`
	Postgres  Postgres  `mapstructure:"postgres"`
	NATS      NATS      `mapstructure:"nats"`
	Redis     Redis     `mapstructure:"redis"`
	Executor  Executor  `mapstructure:"executor"`
	Projector Projector `mapstructure:"projector"`
	Sweeper   Sweeper   `mapstructure:"sweeper"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

type NATS struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type Redis struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

type Executor struct {
	RetryAttempts    int `mapstructure:"retry_attempts"`
	SnapshotInterval int `mapstructure:"snapshot_interval"`
	ReplayPageSize   int `mapstructure:"replay_page_size"`
}

type Projector struct {
	QueueSize int `mapstructure:"queue_size"`
}

type Sweeper struct {
	Interval  time.Duration `mapstructure:"interval"`
	Staleness time.Duration `mapstructure:"staleness"`
}

type Metrics struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads config from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHRONICLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("postgres.dsn", "host=localhost user=chronicle password=chronicle dbname=chronicle port=5432 sslmode=disable")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("executor.retry_attempts", 3)
	v.SetDefault("executor.snapshot_interval", 100)
	v.SetDefault("executor.replay_page_size", 10000)
	v.SetDefault("projector.queue_size", 256)
	v.SetDefault("sweeper.interval", 2*time.Minute)
	v.SetDefault("sweeper.staleness", 5*time.Minute)
	v.SetDefault("metrics.listen_addr", ":9090")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
