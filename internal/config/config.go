package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic         string   `env:"KAFKA_TOPIC" envDefault:"payments.events"`
	OutboxPollInterval int      `env:"OUTBOX_POLL_INTERVAL_MS" envDefault:"500"`
	OutboxBatchSize    int      `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
