package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Database  Database
	Redis     Redis
	Publisher Publisher
	Webhook   Webhook
}

type Database struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"puborch"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"puborch"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`

	// PublishLimit caps adapter publish calls per platform per window.
	// Zero (or an empty Addr) disables the limiter.
	PublishLimit int           `env:"REDIS_PUBLISH_LIMIT" envDefault:"30"`
	LimitWindow  time.Duration `env:"REDIS_LIMIT_WINDOW" envDefault:"1m"`
}

type Publisher struct {
	DueInterval       time.Duration `env:"PUBLISHER_DUE_INTERVAL" envDefault:"30s"`
	RetryInterval     time.Duration `env:"PUBLISHER_RETRY_INTERVAL" envDefault:"1m"`
	StaleInterval     time.Duration `env:"PUBLISHER_STALE_INTERVAL" envDefault:"5m"`
	StaleAfter        time.Duration `env:"PUBLISHER_STALE_AFTER" envDefault:"10m"`
	CheckbackInterval time.Duration `env:"PUBLISHER_CHECKBACK_INTERVAL" envDefault:"1m"`
	ClaimLimit        int           `env:"PUBLISHER_CLAIM_LIMIT" envDefault:"10"`
	PoolSize          int           `env:"PUBLISHER_POOL_SIZE" envDefault:"4"`
	AdapterTimeout    time.Duration `env:"PUBLISHER_ADAPTER_TIMEOUT" envDefault:"60s"`
	MaxRetries        int           `env:"PUBLISHER_MAX_RETRIES" envDefault:"3"`
}

type Webhook struct {
	Timeout          time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	MaxAttempts      int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	FailureThreshold int           `env:"WEBHOOK_FAILURE_THRESHOLD" envDefault:"10"`
	RetryInterval    time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"30s"`
	SweepLimit       int           `env:"WEBHOOK_SWEEP_LIMIT" envDefault:"50"`
}

func Load() *Config {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	return &c
}
