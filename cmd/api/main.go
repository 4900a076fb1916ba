package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gleamora/push-pipeline/internal/builder"
	"github.com/gleamora/push-pipeline/internal/config"
	"github.com/gleamora/push-pipeline/internal/events"
	"github.com/gleamora/push-pipeline/internal/handler"
	"github.com/gleamora/push-pipeline/internal/infra/postgresql"
	"github.com/gleamora/push-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/gleamora/push-pipeline/internal/infra/redis"
	"github.com/gleamora/push-pipeline/internal/manager"
	"github.com/gleamora/push-pipeline/internal/observability"
	"github.com/gleamora/push-pipeline/internal/provider"
	"github.com/gleamora/push-pipeline/internal/queue"
	"github.com/gleamora/push-pipeline/internal/ratelimit"
	"github.com/gleamora/push-pipeline/internal/repository"
	"github.com/gleamora/push-pipeline/internal/transport"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var (
		rdb     *goredis.Client
		limiter ratelimit.RateLimiter
	)
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewUserRateLimiter(rdb, cfg.UserRateLimitPerMin)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
	} else {
		limiter = ratelimit.NewMemoryRateLimiter(cfg.UserRateLimitPerMin)
		logger.Info("redis not configured, using in-memory rate limiter")
	}

	var mirror queue.DeadLetterPublisher
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		m := queue.NewRabbitMQDeadLetterMirror(mq)
		defer m.Close()
		mirror = m
	} else {
		logger.Info("rabbitmq not configured, dead letters are kept in memory only")
	}

	push, err := provider.NewPushGatewayProvider(cfg.PushGatewayURL)
	if err != nil {
		logger.Fatal("push gateway initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	emitter := events.NewEmitter(0)
	defer emitter.Close()

	templates := repository.NewGormTemplateStore(db)
	devices := repository.NewGormDeviceStore(db)
	targeter := repository.NewGormTargeter(db)
	deliveries := repository.NewGormDeliveryStore(db)

	b, err := builder.New(templates, devices, targeter, limiter, cfg.TemplateCacheTTL(), logger.With(observability.Component("builder")))
	if err != nil {
		logger.Fatal("builder initialization failed", zap.Error(err))
	}
	b.SetMetrics(metrics)

	q, err := queue.New(push, devices, deliveries, mirror, emitter, logger.With(observability.Component("queue")), queue.Config{
		Tick:             cfg.QueueTick(),
		BatchSize:        cfg.QueueBatchSize,
		MaxRetries:       cfg.QueueMaxRetries,
		BaseRetryDelay:   cfg.QueueBaseRetryDelay(),
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown(),
	})
	if err != nil {
		logger.Fatal("delivery queue initialization failed", zap.Error(err))
	}
	q.SetMetrics(metrics)

	m, err := manager.New(b, q, emitter, logger.With(observability.Component("manager")))
	if err != nil {
		logger.Fatal("manager initialization failed", zap.Error(err))
	}
	m.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := q.Start(ctx); err != nil {
		logger.Fatal("delivery queue start failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "push-pipeline",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterMetricsRoute(app, metrics.Handler())
	if err := handler.RegisterDispatchRoutes(app, m, q, deliveries); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("push-pipeline api started", zap.Int("port", cfg.APIPort))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Error("delivery queue shutdown failed", zap.Error(err))
	}

	logger.Info("push-pipeline api stopped")
}
