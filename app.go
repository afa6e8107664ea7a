package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"pharmacy-billing/internal/audit"
	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/billing/infrastructure/archive"
	"pharmacy-billing/internal/billing/infrastructure/cache"
	billingmemory "pharmacy-billing/internal/billing/infrastructure/memory"
	billingpostgres "pharmacy-billing/internal/billing/infrastructure/postgres"
	"pharmacy-billing/internal/billing/interfaces"
	"pharmacy-billing/internal/config"
	"pharmacy-billing/internal/eventing"
	eventmemory "pharmacy-billing/internal/eventing/infrastructure/memory"
	eventpostgres "pharmacy-billing/internal/eventing/infrastructure/postgres"
	eventredis "pharmacy-billing/internal/eventing/infrastructure/redis"
	"pharmacy-billing/internal/logging"
	"pharmacy-billing/internal/notify"
	"pharmacy-billing/internal/observability/metrics"
)

type outboxStore interface {
	eventing.OutboxStore
	eventing.OutboxWriter
}

// app holds the wired services shared by every command.
type app struct {
	cfg        config.Config
	logger     zerolog.Logger
	db         *sql.DB
	memory     *billingmemory.Store
	engine     *application.AccountingService
	trigger    *application.OrderTrigger
	usage      *application.UsageService
	rollover   *application.RolloverService
	publisher  *interfaces.OutboxPublisher
	bus        *eventing.InMemoryBus
	dispatcher *eventing.Dispatcher
	processed  eventing.ProcessedStore
	purger     *eventpostgres.ProcessedStore
	audit      audit.Logger
	closers    []func() error
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.Init(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level, Component: "billing"})
	return buildApp(ctx, cfg, logger)
}

func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var (
		resolver      billing.SubscriptionResolver
		plans         billing.PlanCatalog
		cycles        billing.CycleStore
		transactor    billing.CycleTransactor
		rolloverStore billing.RolloverStore
		outbox        outboxStore
		dlq           eventing.DLQStore
	)

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		resolver = billingpostgres.NewSubscriptionRepository(db)
		plans = billingpostgres.NewPlanRepository(db)
		cycleRepo := billingpostgres.NewCycleRepository(db)
		cycles, transactor, rolloverStore = cycleRepo, cycleRepo, cycleRepo
		outbox = eventpostgres.NewOutboxStore(db)
		dlq = eventpostgres.NewDLQStore(db)
		a.audit = audit.NewRepository(db)
	default:
		store := billingmemory.NewStore()
		a.memory = store
		resolver, plans, cycles, transactor, rolloverStore = store, store, store, store, store
		outbox = eventmemory.NewOutboxStore()
		dlq = eventmemory.NewDLQStore()
		a.audit = audit.NewLogWriter(logger)
	}
	metrics.Init(a.db, logger)

	if err := a.wireProcessedStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.bus = eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(application.OrderStatusChanged{}, application.OrderClassified{}, application.CycleClosed{})
	a.publisher = interfaces.NewOutboxPublisher(eventing.NewPublisher(outbox, interfaces.Producer, a.bus, logging.Component("eventing")))
	a.dispatcher = eventing.NewDispatcher(a.bus, outbox, registry, dlq,
		eventing.WithRetryable(billing.IsRetryable),
		eventing.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		eventing.WithDispatchLogger(logging.Component("dispatcher")),
	)

	cached, err := cache.NewSubscriptionCache(resolver, cfg.Cache.Size, cfg.Cache.TTL)
	if err != nil {
		a.Close()
		return nil, err
	}
	clock := application.SystemClock{}

	// classification and rollover read subscriptions uncached so a cancellation
	// takes effect on the next order
	if a.engine, err = application.NewAccountingService(resolver, transactor, a.publisher, clock, logging.Component("engine")); err != nil {
		a.Close()
		return nil, err
	}
	if a.trigger, err = application.NewOrderTrigger(a.engine); err != nil {
		a.Close()
		return nil, err
	}
	if a.usage, err = application.NewUsageService(cached, cycles, plans); err != nil {
		a.Close()
		return nil, err
	}
	a.rollover, err = application.NewRolloverService(rolloverStore, resolver, a.publisher, clock, logging.Component("rollover"),
		application.WithCycleLength(cfg.Rollover.CycleLengthDays),
		application.WithRolloverBatch(cfg.Rollover.Batch),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.subscribeConsumers(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireProcessedStore(ctx context.Context) error {
	switch a.cfg.Processed.Store {
	case config.ProcessedPostgres:
		store := eventpostgres.NewProcessedStore(a.db)
		a.processed = store
		a.purger = store
	case config.ProcessedRedis:
		client, err := eventredis.Dial(ctx, a.cfg.Processed.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		store, err := eventredis.NewProcessedStore(client, eventredis.WithTTL(a.cfg.Processed.TTL))
		if err != nil {
			return err
		}
		a.processed = store
	default:
		if a.memory != nil {
			a.processed = eventmemory.NewProcessedStore()
		}
	}
	return nil
}

func (a *app) subscribeConsumers() error {
	var notifier notify.Notifier = notify.NewLogNotifier(logging.Component("alerts"))
	if a.cfg.AlertWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(a.cfg.AlertWebhookURL)
	}
	statusConsumer, err := interfaces.NewOrderStatusConsumer(a.trigger, notifier, logging.Component("order_status"))
	if err != nil {
		return err
	}
	statusConsumer.Subscribe(a.bus, a.processed)
	interfaces.NewClassifiedLogConsumer(logging.Component("classified")).Subscribe(a.bus, a.processed)

	store, err := a.archiveStore()
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	archiver, err := interfaces.NewStatementArchiveConsumer(a.usage, store, a.cfg.Currency, logging.Component("archive"))
	if err != nil {
		return err
	}
	archiver.Subscribe(a.bus, a.processed)
	return nil
}

func (a *app) archiveStore() (archive.Store, error) {
	switch a.cfg.Archive.Provider {
	case config.ArchiveLocal:
		return archive.NewLocalStore(a.cfg.Archive.LocalPath, logging.Component("archive"))
	case config.ArchiveS3:
		s3cfg := a.cfg.Archive.S3
		return archive.NewS3Store(archive.S3Config{
			Bucket:          s3cfg.Bucket,
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		}, logging.Component("archive"))
	default:
		return nil, nil
	}
}

// Close releases connections in reverse order.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("close failed")
	}
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}
