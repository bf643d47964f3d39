package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	httpapi "github.com/shestoi/stockhold/internal/api/http"
	"github.com/shestoi/stockhold/internal/clock"
	"github.com/shestoi/stockhold/internal/config"
	eventkafka "github.com/shestoi/stockhold/internal/event/kafka"
	"github.com/shestoi/stockhold/internal/repository"
	mongorepo "github.com/shestoi/stockhold/internal/repository/mongo"
	"github.com/shestoi/stockhold/internal/repository/postgres"
	redisrepo "github.com/shestoi/stockhold/internal/repository/redis"
	"github.com/shestoi/stockhold/internal/scheduler"
	"github.com/shestoi/stockhold/internal/service"
	platformhealth "github.com/shestoi/stockhold/platform/health/http"
	platformlogging "github.com/shestoi/stockhold/platform/logging"
	platformobservability "github.com/shestoi/stockhold/platform/observability"
	platformshutdown "github.com/shestoi/stockhold/platform/shutdown"
)

const (
	serviceName    = "reservation"
	connectTimeout = 5 * time.Second
)

// worker фоновая задача, живущая до отмены контекста приложения
type worker struct {
	name string
	run  func(ctx context.Context)
}

// App все зависимости сервиса резервирования и их порядок остановки
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	workers     []worker

	workersCtx    context.Context
	cancelWorkers context.CancelFunc
	workersWG     sync.WaitGroup
	serverWG      sync.WaitGroup
}

// Build собирает граф зависимостей.
// При ошибке уже поднятые ресурсы закрываются через shutdown manager.
func Build(cfg config.Config) (_ *App, err error) {
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: serviceName,
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	cfg.Log(logger)

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	defer func() {
		if err != nil {
			shutdownMgr.Shutdown()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}
	shutdownMgr.Add("otel", otelShutdown)

	// PostgreSQL: миграции, затем пул
	logger.Info("Applying PostgreSQL migrations")
	if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
	if err := pingWithTimeout(ctx, pool.Ping); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connection established")

	// Redis: быстрый счётчик остатков и холды
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	shutdownMgr.Add("redis", platformshutdown.CloseWithError(redisClient))
	redisPing := func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	if err := pingWithTimeout(ctx, redisPing); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Redis connection established")

	checks := []platformhealth.Check{
		{Name: "postgres", Fn: pool.Ping},
		{Name: "redis", Fn: redisPing},
	}

	// Durable остатки: PostgreSQL по умолчанию или MongoDB
	var durable repository.StockRepository
	switch cfg.StockBackend {
	case config.StockBackendMongo:
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		shutdownMgr.Add("mongo", platformshutdown.DisconnectMongo(mongoClient))
		mongoPing := func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
		if err := pingWithTimeout(ctx, mongoPing); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		durable, err = mongorepo.NewStockRepository(ctx, mongoClient, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		checks = append(checks, platformhealth.Check{Name: "mongo", Fn: mongoPing})
		logger.Info("MongoDB stock backend enabled", zap.String("database", cfg.MongoDatabase))
	default:
		durable = postgres.NewStockRepository(pool)
	}

	sysClock := clock.NewSystem()
	ledger := service.NewStockLedger(redisrepo.NewStockCounter(redisClient, logger), durable, logger)
	holdStore := redisrepo.NewHoldStore(redisClient, cfg.HoldKeyGrace, logger)
	expirations := postgres.NewExpirationRepository(pool, cfg.SchedulerLease, logger)
	orders := postgres.NewOrderRepository(pool)

	var workers []worker

	// Kafka: outbox, алерты и статусы оплаты; без Kafka алерты идут в лог
	var (
		alerts service.AlertPublisher = service.NewLogAlertPublisher(logger)
		writer *kafka.Writer
	)
	if cfg.Kafka.Enabled {
		writer = cfg.Kafka.NewWriter()
		shutdownMgr.Add("kafka_writer", platformshutdown.CloseWithError(writer))
		alerts = eventkafka.NewAlertPublisher(logger, writer, cfg.AlertsTopic)

		dispatcher := eventkafka.NewOutboxDispatcher(logger, postgres.NewOutboxRepository(pool), writer,
			cfg.OutboxTopicPrefix, cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxMaxRetries, cfg.OutboxBackoff)
		workers = append(workers, worker{name: "outbox_dispatcher", run: func(ctx context.Context) {
			_ = dispatcher.Start(ctx)
		}})
	}

	poller := scheduler.NewPoller(expirations, sysClock, scheduler.PollerConfig{
		Interval:  cfg.SchedulerPollInterval,
		BatchSize: cfg.SchedulerBatchSize,
		Backoff:   cfg.SchedulerRetryBackoff,
	}, logger)

	var expirationScheduler interface {
		service.ExpirationScheduler
		Register(handler repository.ExpirationHandler)
	} = poller
	if cfg.SchedulerLocalTimers {
		timers := scheduler.NewTimerScheduler(logger)
		shutdownMgr.Add("local_timers", timers.Stop)
		expirationScheduler = scheduler.NewLayered(poller, timers, logger)
	}

	holdManager := service.NewHoldManager(ledger, holdStore, expirationScheduler, alerts, logger,
		service.WithHoldTTL(cfg.HoldTTL),
		service.WithClock(sysClock),
		service.WithReleaseRetry(cfg.ReleaseMaxAttempts, cfg.ReleaseBackoff),
		service.WithMetrics(newHoldMetricsRecorder()),
		service.WithScheduledExpirations(expirations),
	)
	expirationScheduler.Register(holdManager.ExpireHold)

	settlement := service.NewOrderSettlement(holdManager, orders, alerts, sysClock, logger)
	ingestor := service.NewWebhookIngestor(orders, sysClock, cfg.WebhookIdempotencyTTL, logger)

	workers = append(workers,
		worker{name: "expiration_poller", run: func(ctx context.Context) {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("expiration poller stopped", zap.Error(err))
			}
		}},
		worker{name: "webhook_janitor", run: func(ctx context.Context) {
			scheduler.Every(ctx, "webhook_janitor", cfg.WebhookPurgeInterval, logger, ingestor.PurgeExpired)
		}},
	)

	if cfg.Kafka.Enabled {
		reader := cfg.Kafka.NewReader(cfg.PaymentStatusTopic, cfg.PaymentStatusGroupID)
		shutdownMgr.Add("kafka_reader", platformshutdown.CloseWithError(reader))

		var dlq *eventkafka.DLQPublisher
		if cfg.PaymentStatusDLQTopic != "" {
			dlq = eventkafka.NewDLQPublisher(logger, writer, cfg.PaymentStatusDLQTopic)
		}
		consumer := eventkafka.NewPaymentStatusConsumer(logger, reader, ingestor, dlq,
			cfg.PaymentStatusMaxAttempts, cfg.PaymentStatusBackoffBase)
		workers = append(workers, worker{name: "payment_status_consumer", run: func(ctx context.Context) {
			_ = consumer.Start(ctx)
		}})
	}

	handler := httpapi.NewHandler(holdManager, settlement, ledger, ingestor, logger)
	router := httpapi.NewRouter(handler, logger, checks...)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	a := &App{
		logger:      logger,
		httpServer:  httpServer,
		shutdownMgr: shutdownMgr,
		workers:     workers,
	}
	a.workersCtx, a.cancelWorkers = context.WithCancel(context.Background())

	// воркеры гасятся после HTTP сервера, но до закрытия Kafka, Redis и Postgres
	shutdownMgr.Add("workers", platformshutdown.CancelAndWait(a.cancelWorkers, &a.workersWG))
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return a, nil
}

// Run запускает HTTP сервер и фоновые воркеры, блокируется до сигнала остановки
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	for _, w := range a.workers {
		a.workersWG.Add(1)
		go func(w worker) {
			defer a.workersWG.Done()
			a.logger.Info("Starting worker", zap.String("worker", w.name))
			w.run(a.workersCtx)
		}(w)
	}

	a.logger.Info("Starting Reservation service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	// падение сервера тоже запускает остановку
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a.serverWG.Add(1)
	go func() {
		defer a.serverWG.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	a.shutdownMgr.Wait(ctx)

	a.serverWG.Wait()
	a.logger.Info("Reservation service stopped")
	return nil
}

func pingWithTimeout(parent context.Context, ping func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, connectTimeout)
	defer cancel()
	return ping(ctx)
}
