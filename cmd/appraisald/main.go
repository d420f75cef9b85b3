package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"snapvalue/config"
	"snapvalue/internal/capability/stub"
	"snapvalue/internal/intake"
	"snapvalue/internal/queue"
	"snapvalue/internal/retention"
	"snapvalue/internal/status"
	"snapvalue/internal/worker"
	"snapvalue/web"
)

func main() {
	cfg, err := configFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	jobStore := config.CreateJobStore(cfg)
	defer jobStore.Close()

	limiter := config.CreateRateLimiter(cfg)
	publisher := config.CreateEventPublisher(cfg)
	defer publisher.Close()

	scheduler := queue.NewScheduler(jobStore, cfg.WorkerCount, cfg.StepBudget)
	gateway := intake.NewGateway(jobStore, scheduler, limiter)
	service := status.NewService(jobStore, scheduler)
	coordinator := status.NewBatchCoordinator(jobStore, service)
	executor := worker.NewExecutor(jobStore, scheduler, stub.NewSet(), publisher, cfg.WorkerCount)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := retention.NewSweeper(jobStore,
		retention.WithWindow(cfg.RetentionWindow),
		retention.WithSchedule(cfg.RetentionSchedule),
	)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer sweeper.Stop()

	go func() {
		if err := executor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Println("executor stopped:", err)
		}
	}()

	handler := web.NewRouteHandler(gateway, service, coordinator)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.Router(),
	}

	go func() {
		log.Printf("%s listening on %s (storage=%s, workers=%d)", cfg.Instance, srv.Addr, cfg.StorageDriver, cfg.WorkerCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("http shutdown:", err)
	}
}

func configFromEnv() (*config.Config, error) {
	instance := envOr("APPRAISAL_INSTANCE", "appraisal-api")

	opts := []config.Option{}

	if raw := os.Getenv("APPRAISAL_HTTP_PORT"); raw != "" {
		port, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("APPRAISAL_HTTP_PORT: %w", err)
		}
		opts = append(opts, config.WithHTTPPort(uint(port)))
	}
	if raw := os.Getenv("APPRAISAL_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("APPRAISAL_WORKERS: %w", err)
		}
		opts = append(opts, config.WithWorkerCount(n))
	}
	if raw := os.Getenv("APPRAISAL_STEP_BUDGET"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("APPRAISAL_STEP_BUDGET: %w", err)
		}
		opts = append(opts, config.WithStepBudget(d))
	}

	driver, err := config.ParseStorageDriver(os.Getenv("APPRAISAL_STORAGE"))
	if err != nil {
		return nil, err
	}
	if driver == config.Postgres {
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{
			ConnectionUrl: os.Getenv("APPRAISAL_PG_URL"),
		}))
	}

	if addr := os.Getenv("APPRAISAL_REDIS_ADDR"); addr != "" {
		db, _ := strconv.Atoi(os.Getenv("APPRAISAL_REDIS_DB"))
		opts = append(opts, config.WithRedisConfig(config.RedisConfig{
			Address:  addr,
			Password: os.Getenv("APPRAISAL_REDIS_PASSWORD"),
			DB:       db,
		}))
	}

	if url := os.Getenv("APPRAISAL_AMQP_URL"); url != "" {
		opts = append(opts, config.WithRabbitMQConfig(config.RabbitMQConfig{
			URL:        url,
			Exchange:   envOr("APPRAISAL_AMQP_EXCHANGE", "appraisal_events"),
			Queue:      envOr("APPRAISAL_AMQP_QUEUE", "appraisal_lifecycle"),
			RoutingKey: envOr("APPRAISAL_AMQP_ROUTING_KEY", "appraisal.status"),
		}))
	}

	if raw := os.Getenv("APPRAISAL_RETENTION_WINDOW"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("APPRAISAL_RETENTION_WINDOW: %w", err)
		}
		opts = append(opts, config.WithRetention(window, envOr("APPRAISAL_RETENTION_SCHEDULE", config.DefaultRetentionSchedule)))
	}

	return config.NewConfig(instance, opts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
