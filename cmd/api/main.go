package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/wali-dispatch/internal/config"
	"github.com/kursadbilgin/wali-dispatch/internal/handler"
	"github.com/kursadbilgin/wali-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/wali-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/wali-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/wali-dispatch/internal/observability"
	"github.com/kursadbilgin/wali-dispatch/internal/provider"
	"github.com/kursadbilgin/wali-dispatch/internal/queue"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"github.com/kursadbilgin/wali-dispatch/internal/service"
	"github.com/kursadbilgin/wali-dispatch/internal/throttle"
	"github.com/kursadbilgin/wali-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepLimit      = 100
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultOptions(), logger)
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

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	registry, err := newThrottleRegistry(cfg, rdb)
	if err != nil {
		logger.Fatal("throttle registry initialization failed", zap.Error(err))
	}

	sender, err := newTransport(cfg)
	if err != nil {
		logger.Fatal("whatsapp transport initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	jobs := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	records := repository.NewGormTahfidzRepo(db)

	dispatcher, err := service.NewDispatcher(
		jobs,
		attempts,
		sender,
		registry,
		cfg.ThrottleWindow(),
		cfg.MaxRetry,
		logger.Named("dispatcher"),
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	queries, err := service.NewNotificationQueries(jobs, attempts)
	if err != nil {
		logger.Fatal("notification queries initialization failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		publisher queue.Publisher
		broker    handler.BrokerStatus
	)
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger.Named("rabbitmq"))
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer mq.Close()

		publisher = queue.NewRabbitMQPublisher(mq)
		broker = mq

		consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger.Named("consumer"))
		worker, err := service.NewRedispatchWorker(consumer, dispatcher, cfg.WorkerConcurrency, logger.Named("redispatch"))
		if err != nil {
			logger.Fatal("redispatch worker initialization failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)
		g.Go(func() error {
			return worker.Start(gctx)
		})
	} else {
		logger.Warn("RABBITMQ_URL not set, failed notifications will not be redispatched")
	}

	sweeper, err := service.NewRecoverySweeper(
		jobs,
		publisher,
		cfg.SweepInterval(),
		cfg.SweepStaleAfter(),
		sweepLimit,
		logger.Named("sweeper"),
	)
	if err != nil {
		logger.Fatal("recovery sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)
	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	tahfidz, err := service.NewTahfidzService(records, dispatcher, publisher, logger.Named("tahfidz"))
	if err != nil {
		logger.Fatal("tahfidz service initialization failed", zap.Error(err))
	}
	tahfidz.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "wali-dispatch",
		ErrorHandler: transport.ErrorHandler(logger.Named("http")),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterNotificationRoutes(app, dispatcher, queries); err != nil {
		logger.Fatal("notification routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterTahfidzRoutes(app, tahfidz); err != nil {
		logger.Fatal("tahfidz routes registration failed", zap.Error(err))
	}

	g.Go(func() error {
		logger.Info("wali-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.String("throttleBackend", cfg.ThrottleBackend),
			zap.String("whatsappProvider", cfg.WhatsAppProvider),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("wali-dispatch stopped with error", zap.Error(err))
		return
	}
	logger.Info("wali-dispatch stopped")
}

func newThrottleRegistry(cfg *config.Config, rdb *redis.Client) (throttle.Registry, error) {
	switch cfg.ThrottleBackend {
	case config.ThrottleBackendRedis:
		registry, err := infraredis.NewRedisRegistry(rdb, cfg.ThrottleWindow())
		if err != nil {
			return nil, err
		}
		return registry, nil
	default:
		return throttle.NewMemoryRegistry(cfg.ThrottleWindow()), nil
	}
}

func newTransport(cfg *config.Config) (provider.Transport, error) {
	switch cfg.WhatsAppProvider {
	case config.WhatsAppProviderCloud:
		cloud, err := provider.NewWhatsAppCloudTransport(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneNumberID, cfg.WhatsAppToken)
		if err != nil {
			return nil, err
		}
		return cloud, nil
	default:
		return provider.NewStubTransport(cfg.StubLatency()), nil
	}
}
