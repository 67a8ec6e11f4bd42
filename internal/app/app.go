package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/fulfillment/internal/bus"
	"github.com/utafrali/fulfillment/internal/config"
	"github.com/utafrali/fulfillment/internal/dedup"
	"github.com/utafrali/fulfillment/internal/event"
	handler "github.com/utafrali/fulfillment/internal/handler/http"
	"github.com/utafrali/fulfillment/internal/notification"
	"github.com/utafrali/fulfillment/internal/outbox"
	"github.com/utafrali/fulfillment/internal/repository/postgres"
	"github.com/utafrali/fulfillment/internal/service"
	"github.com/utafrali/fulfillment/migrations"
	"github.com/utafrali/fulfillment/pkg/database"
	"github.com/utafrali/fulfillment/pkg/health"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
	"github.com/utafrali/fulfillment/pkg/middleware"
	"github.com/utafrali/fulfillment/pkg/tracing"
)

const (
	serviceName = "fulfillment"

	redisDedupPrefix     = "fulfillment:dedup:"
	redisProcessedPrefix = "fulfillment:processed:"
	processedEventTTL    = 24 * time.Hour
)

// App wires together all dependencies and runs the fulfillment service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	bus            bus.Bus
	dlq            *pkgkafka.DLQProducer
	dispatcher     *outbox.Dispatcher
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	stop    context.CancelFunc
	workers sync.WaitGroup
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = serviceName
	tracingCfg.Environment = cfg.Environment
	tracerShutdown, err := tracing.InitTracer(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		tracerShutdown: tracerShutdown,
	}

	if cfg.NeedsRedis() {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis(), logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}

	a.bus = a.newBus()

	// Build the dependency graph.
	products := postgres.NewProductRepository(pool)
	orders := postgres.NewOrderRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)

	producer := event.NewProducer(a.bus, logger)
	ledger := service.NewLedger(ledgerRepo, a.newGuard(), cfg.DedupWindow, producer, logger)
	stockService := service.NewStockService(products, ledger, logger)
	orderService := service.NewOrderService(orders, products, service.PricingConfig{
		TaxRate:     cfg.TaxRate,
		ShippingFee: cfg.ShippingFee,
		Currency:    cfg.Currency,
	}, logger)

	sender := a.newSender()
	event.NewConsumer(event.Handlers{
		Fulfillment: service.NewOrchestrator(orders, products, logger),
		Adjustment:  service.NewAdjustmentWorker(ledger, logger),
		Observer:    stockService,
		Notifier:    notification.NewSink(orders, sender, logger),
		Alerter:     notification.NewAlertHandler(sender, cfg.NotificationOperatorEmail, logger),
	}, logger).Register(a.bus)

	a.dispatcher = outbox.NewDispatcher(outboxRepo, a.bus, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		Retention:    cfg.OutboxRetention,
	}, logger)

	router := handler.NewRouter(orderService, stockService, a.newHealth(), logger, handler.RouterConfig{
		CORS:       middleware.NewCORSConfig(cfg.CORSAllowedOrigins, cfg.Environment),
		PprofCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// newBus builds the event bus selected by BUS_DRIVER. The Kafka bus shares
// processed event IDs through Redis so redeliveries to another replica are
// skipped too.
func (a *App) newBus() bus.Bus {
	if a.cfg.BusDriver == config.BusDriverMemory {
		memCfg := bus.DefaultMemoryConfig()
		memCfg.Workers = a.cfg.BusWorkers
		a.logger.Info("using in-process event bus", slog.Int("workers", memCfg.Workers))
		return bus.NewMemoryBus(memCfg, a.logger)
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.dlq = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)
	store := pkgkafka.NewRedisIdempotencyStore(a.redis, redisProcessedPrefix, processedEventTTL)
	a.logger.Info("using kafka event bus", slog.Any("brokers", a.cfg.KafkaBrokers))
	return bus.NewKafkaBus(bus.KafkaConfig{Brokers: a.cfg.KafkaBrokers}, producer, a.dlq, store, a.logger)
}

func (a *App) newGuard() dedup.Guard {
	if a.cfg.DedupDriver == config.DedupDriverMemory {
		return dedup.NewMemoryGuard()
	}
	return dedup.NewRedisGuard(a.redis, redisDedupPrefix)
}

func (a *App) newSender() notification.Sender {
	if a.cfg.NotificationWebhookURL == "" {
		return notification.NewLogSender(a.logger)
	}
	return notification.NewWebhookSender(a.cfg.NotificationWebhookURL, a.cfg.NotificationWebhookRPS, a.logger)
}

func (a *App) newHealth() *health.Handler {
	h := health.NewHandler()
	h.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	if a.redis != nil {
		h.RegisterCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.cfg.BusDriver == config.BusDriverKafka {
		h.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, a.cfg.KafkaBrokers)
		})
	}
	return h
}

// Run starts the HTTP server, the bus subscriptions and the outbox
// dispatcher, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	a.stop = stop
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := a.bus.Start(runCtx); err != nil {
			errCh <- fmt.Errorf("event bus: %w", err)
		}
	}()

	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		a.dispatcher.Run(runCtx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. Background workers are told to stop
// 2. HTTP server (drain in-flight requests)
// 3. Outbox dispatcher (finish the batch in progress)
// 4. Tracer (flush pending spans from drained requests)
// 5. Event bus consumers and producer
// 6. Redis client
// 7. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	if a.stop != nil {
		a.stop()
	}

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.workers.Wait()
	a.logger.Info("outbox dispatcher stopped")

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.bus.Close(); err != nil {
		a.logger.Error("event bus close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
