package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	PushGatewayURL string `env:"PUSH_GATEWAY_URL,required=true"`
	// RedisURL enables the distributed per-user rate limiter; empty falls
	// back to the in-memory limiter.
	RedisURL string `env:"REDIS_URL"`
	// RabbitMQURL enables the durable dead-letter mirror; empty disables it.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	UserRateLimitPerMin int `env:"USER_RATE_LIMIT_PER_MIN,default=10"`

	QueueTickMS           int `env:"QUEUE_TICK_MS,default=1000"`
	QueueBatchSize        int `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxRetries       int `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueBaseRetryDelayMS int `env:"QUEUE_BASE_RETRY_DELAY_MS,default=1000"`

	BreakerThreshold  int `env:"BREAKER_THRESHOLD,default=10"`
	BreakerCooldownMS int `env:"BREAKER_COOLDOWN_MS,default=30000"`

	TemplateCacheTTLSec int `env:"TEMPLATE_CACHE_TTL_SEC,default=300"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) QueueTick() time.Duration {
	return time.Duration(c.QueueTickMS) * time.Millisecond
}

func (c *Config) QueueBaseRetryDelay() time.Duration {
	return time.Duration(c.QueueBaseRetryDelayMS) * time.Millisecond
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMS) * time.Millisecond
}

func (c *Config) TemplateCacheTTL() time.Duration {
	return time.Duration(c.TemplateCacheTTLSec) * time.Second
}
