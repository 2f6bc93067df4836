package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/health"
	"github.com/K-crypto-trader/crpypto-trader/libs/httpmiddleware"
	"github.com/K-crypto-trader/crpypto-trader/libs/kafka"
	"github.com/K-crypto-trader/crpypto-trader/libs/logging"
	"github.com/K-crypto-trader/crpypto-trader/libs/metrics"
	"github.com/K-crypto-trader/crpypto-trader/libs/migrate"
	"github.com/K-crypto-trader/crpypto-trader/libs/trace"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/config"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/events"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/handlers"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/matching"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/rate"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/service"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/storage"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/ticker"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/migrations"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// tickSource delivers tickers until ctx is done.
type tickSource func(ctx context.Context) error

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()

	ready := health.NewManager(false)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready.AddCheck("store", store.Ping)

	var redisClient *redis.Client
	if cfg.Ticker.Source == config.TickerSourceRedis || cfg.RateLimit.Backend == config.RateBackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		ready.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = kafka.NewBreakerPublisher(
			kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger),
			kafka.BreakerSettings{
				Name:        "trader-events",
				MaxFailures: cfg.Kafka.Breaker.MaxFailures,
				Timeout:     cfg.Kafka.Breaker.Timeout,
			},
			logger,
		)
	}
	emitter := events.NewEmitter(publisher, events.Topics{
		OrdersCreated:   cfg.Kafka.Topics.OrdersCreated,
		OrdersCanceled:  cfg.Kafka.Topics.OrdersCanceled,
		OrdersCompleted: cfg.Kafka.Topics.OrdersCompleted,
	}, logger)

	matchingMetrics := matching.NewMetrics(registry)
	scheduler := matching.NewScheduler(store, matching.Config{
		BatchSize:    cfg.Matching.BatchSize,
		Workers:      cfg.Matching.Workers,
		SoftDeadline: cfg.Matching.SoftDeadline,
		MaxRetries:   cfg.Matching.MaxRetries,
		RetryBackoff: cfg.Matching.RetryBackoff,
	}, logger, matchingMetrics)
	engine := matching.NewEngine(store, scheduler, emitter, logger, matchingMetrics)

	orderSvc := service.NewOrderService(store, emitter, logger, service.NewMetrics(registry))

	cache := ticker.NewCache(cfg.Ticker.Markets...)
	dispatcher := ticker.NewDispatcher(cache, engine, cfg.Matching.MaxConcurrentPasses, logger)

	source, closeSource, err := openTickSource(cfg, redisClient, dispatcher, publisher, registry, logger)
	if err != nil {
		logger.Error("ticker source init failed", "source", cfg.Ticker.Source, "error", err)
		os.Exit(1)
	}
	defer closeSource()

	var limiter rate.Limiter = rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if cfg.RateLimit.Backend == config.RateBackendRedis {
		limiter = rate.NewRedis(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
	}

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.New(orderSvc, cache, logger).Register(router, []byte(cfg.JWTSecret), rate.Middleware(limiter, logger))

	httpServer := &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	sourceCtx, sourceCancel := context.WithCancel(context.Background())
	defer sourceCancel()
	sourceDone := make(chan struct{})

	go func() {
		logger.Info("trader http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(sourceDone)
		if source == nil {
			return
		}
		logger.Info("ticker source starting", "source", cfg.Ticker.Source)
		if err := source(sourceCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ticker source stopped", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, sourceCancel, sourceDone, dispatcher, logger)
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; state is lost on restart")
		return storage.NewMemory(cfg.Matching.LockTimeout), func() {}, nil
	}

	pool, err := connectDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate.Up(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return storage.NewPostgres(pool, cfg.Matching.LockTimeout), pool.Close, nil
}

func openTickSource(cfg *config.Config, redisClient *redis.Client, dispatcher *ticker.Dispatcher, dlq kafka.Publisher, registry *prometheus.Registry, logger *slog.Logger) (tickSource, func(), error) {
	switch cfg.Ticker.Source {
	case config.TickerSourceRedis:
		sub := ticker.NewRedisSubscriber(redisClient, cfg.Ticker.Channel, dispatcher, logger)
		return sub.Run, func() {}, nil
	case config.TickerSourceKafka:
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger,
			kafka.WithDLQ(dlq, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.MaxAttempts),
			kafka.WithConsumerMetrics(kafka.NewConsumerMetrics(registry)))
		if err != nil {
			return nil, nil, err
		}
		handler := ticker.NewKafkaConsumer(dispatcher, logger)
		run := func(ctx context.Context) error {
			return consumer.Consume(ctx, []string{cfg.Kafka.Topics.Tickers}, handler)
		}
		return run, func() { _ = consumer.Close() }, nil
	default:
		logger.Warn("no ticker source configured; matching runs only on demand")
		return nil, func() {}, nil
	}
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, stopSource context.CancelFunc, sourceDone <-chan struct{}, dispatcher *ticker.Dispatcher, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	stopSource()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()

	select {
	case <-sourceDone:
	case <-ctx.Done():
	}
	if err := dispatcher.Wait(ctx); err != nil {
		logger.Error("matching passes still running at shutdown", "error", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
