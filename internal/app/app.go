// Package app assembles the work order service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/workorder-service/internal/api/http"
	"github.com/spec-kit/workorder-service/internal/api/http/handlers"
	"github.com/spec-kit/workorder-service/internal/auth"
	"github.com/spec-kit/workorder-service/internal/blob"
	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/internal/directory"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/evidence"
	"github.com/spec-kit/workorder-service/internal/expense"
	"github.com/spec-kit/workorder-service/internal/notification"
	"github.com/spec-kit/workorder-service/internal/numbering"
	"github.com/spec-kit/workorder-service/internal/observability"
	"github.com/spec-kit/workorder-service/internal/persistence"
	"github.com/spec-kit/workorder-service/internal/repository"
	"github.com/spec-kit/workorder-service/internal/repository/memory"
	"github.com/spec-kit/workorder-service/internal/repository/sqlite"
	"github.com/spec-kit/workorder-service/internal/service"
	"github.com/spec-kit/workorder-service/internal/worker"
)

// workOrderStore is what every store driver provides.
type workOrderStore interface {
	repository.WorkOrderRepository
	repository.SequenceRepository
}

// App owns the HTTP server and every resource it must release on shutdown.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	fiber      *fiber.App
	pool       *worker.Pool
	workOrders *service.WorkOrderService
	registry   *prometheus.Registry
	closers    []func(context.Context)
}

// New connects the configured backends and builds the HTTP application.
// On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(a.registry)

	provider, flush, err := observability.NewTracerProvider(ctx, cfg.Tracing, cfg.App, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(flush)
	tracer := provider.Tracer(cfg.App.Name)

	pingers := map[string]handlers.Pinger{}
	store, ledger, lookup, err := a.openStore(ctx, tracer, pingers)
	if err != nil {
		return nil, err
	}

	rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		a.onClose(func(context.Context) { rdb.Close() })
		pingers["redis"] = rdb
		lookup = directory.NewCached(lookup, rdb.Client, cfg.Redis.DirectoryTTL(), logger)
	}

	var sequence numbering.Sequence
	switch cfg.Store.Sequence {
	case config.SequenceRedis:
		if rdb == nil {
			return nil, errors.New("redis sequence selected without REDIS_ADDR")
		}
		sequence = numbering.NewRedisSequence(rdb.Client, store)
	case config.SequenceMemory:
		sequence = numbering.NewCounter(store)
	default:
		sequence = numbering.NewStoreSequence(store)
	}

	notifier, err := a.notifier()
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewLocalStore(cfg.Blob.Root)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a.pool = worker.NewPool(cfg.Worker, logger)
	a.pool.Start(ctx)
	dispatcher := events.NewAsyncDispatcher(a.pool, logger, metrics)

	service.NewNotificationService(dispatcher, notifier, directory.New(lookup), store, logger).RegisterHandlers()
	service.NewExpenseService(dispatcher, ledger, logger, cfg.Expense.MaxElapsed()).RegisterHandlers()

	a.workOrders = service.NewWorkOrderService(service.WorkOrderDependencies{
		WorkOrderRepo:   store,
		Numbers:         numbering.NewGenerator(sequence, nil),
		Evidence:        evidence.NewKeeper(evidence.PolicyFromConfig(cfg.Evidence), blobs, logger),
		Dispatcher:      dispatcher,
		Tracer:          tracer,
		Metrics:         metrics,
		Logger:          logger,
		ConflictRetries: cfg.App.ConflictRetries,
	})

	a.fiber = fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             max(cfg.App.BodyLimitMB, 1) << 20,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(a.fiber, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(a.fiber, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pingers),
		WorkOrders:     handlers.NewWorkOrdersHandler(a.workOrders, cfg.Evidence.MaxFileBytes),
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth)),
		Gatherer:       a.registry,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, tracer trace.Tracer, pingers map[string]handlers.Pinger) (workOrderStore, expense.Ledger, directory.Lookup, error) {
	switch a.cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, a.cfg.Postgres, a.logger)
		if err != nil {
			return nil, nil, nil, err
		}
		a.onClose(func(context.Context) { pg.Close() })
		if a.cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(pg.Pool, a.logger); err != nil {
				return nil, nil, nil, err
			}
		}
		pingers["postgres"] = pg
		return repository.NewWorkOrderRepository(pg.Pool, tracer),
			repository.NewExpenseRepository(pg.Pool, tracer),
			repository.NewDirectoryRepository(pg.Pool, tracer),
			nil
	case config.StoreDriverSQLite:
		db, err := persistence.OpenSQLite(a.cfg.SQLite, a.logger)
		if err != nil {
			return nil, nil, nil, err
		}
		a.onClose(func(context.Context) { _ = db.Close() })
		store := sqlite.New(db)
		pingers["sqlite"] = store
		return store, store, store, nil
	default:
		a.logger.Warn("using in-memory store; data is lost on restart")
		store := memory.New()
		pingers["memory"] = store
		return store, expense.NewMemoryLedger(), directory.NewStatic(), nil
	}
}

func (a *App) notifier() (notification.Dispatcher, error) {
	switch a.cfg.Notification.Transport {
	case config.NotifyWebhook:
		return notification.NewWebhookDispatcher(a.cfg.Notification, a.logger), nil
	case config.NotifyKafka:
		producer, err := notification.NewKafkaProducer(a.cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return a.kafkaDispatcher(producer), nil
	default:
		return notification.NewLogDispatcher(a.logger), nil
	}
}

func (a *App) kafkaDispatcher(producer sarama.SyncProducer) *notification.KafkaDispatcher {
	d := notification.NewKafkaDispatcher(producer, a.cfg.Kafka.Topic, a.logger)
	a.onClose(func(context.Context) {
		if err := d.Close(); err != nil {
			a.logger.Warn("closing kafka producer", zap.Error(err))
		}
	})
	return d
}

// Fiber exposes the HTTP application, mainly for tests.
func (a *App) Fiber() *fiber.App { return a.fiber }

// WorkOrders exposes the lifecycle service.
func (a *App) WorkOrders() *service.WorkOrderService { return a.workOrders }

// Listen serves HTTP until the listener fails or Shutdown is called.
func (a *App) Listen() error {
	a.logger.Info("http server listening", zap.String("addr", a.cfg.App.Addr()))
	return a.fiber.Listen(a.cfg.App.Addr())
}

// Shutdown stops the server first, drains pending side effects, then closes
// backends in reverse order of opening.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.fiber != nil {
		if err := a.fiber.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker shutdown: %w", err))
		}
	}
	a.release(ctx)
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

func (a *App) release(ctx context.Context) {
	if a.pool != nil {
		_ = a.pool.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
