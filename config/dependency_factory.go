package config

import (
	"context"
	"log"

	_ "github.com/lib/pq"

	"snapvalue/internal/events"
	"snapvalue/internal/ratelimit"
	"snapvalue/internal/store"
	"snapvalue/internal/store/memory"
	"snapvalue/internal/store/postgres"
)

// CreateJobStore builds the job store selected by the config. The postgres
// store ensures its schema before use.
func CreateJobStore(cfg *Config) store.JobStore {
	switch cfg.StorageDriver {
	case Postgres:
		db := setupPostgres(cfg.PostgresConfig.ConnectionUrl)
		jobStore := postgres.NewJobStore(db)
		if err := jobStore.Init(context.Background()); err != nil {
			log.Fatal(err)
		}
		return jobStore
	case Memory:
		return memory.NewJobStore()
	default:
		panic("unsupported storage driver")
	}
}

// CreateRateLimiter builds a shared limiter on Redis when configured, or a
// per-process one otherwise.
func CreateRateLimiter(cfg *Config) ratelimit.Limiter {
	if cfg.RedisConfig != nil {
		client := setupRedis(cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
		return ratelimit.NewRedisLimiter(client, cfg.Instance)
	}
	return ratelimit.NewMemoryLimiter()
}

// CreateEventPublisher builds the lifecycle-event publisher, or a no-op one
// when event publishing is disabled.
func CreateEventPublisher(cfg *Config) events.Publisher {
	if !cfg.PublishEvents || cfg.RabbitMQConfig == nil {
		return events.Noop{}
	}
	mq := cfg.RabbitMQConfig
	publisher, err := events.NewRabbitMQ(mq.URL, mq.Exchange, mq.Queue, mq.RoutingKey)
	if err != nil {
		log.Fatal(err)
	}
	return publisher
}
