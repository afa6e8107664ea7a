package integration_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-billing/internal/billing/application"
	billingpostgres "pharmacy-billing/internal/billing/infrastructure/postgres"
	"pharmacy-billing/internal/billing/interfaces"
	"pharmacy-billing/internal/eventing"
	eventpostgres "pharmacy-billing/internal/eventing/infrastructure/postgres"
	"pharmacy-billing/internal/migrations"
	"pharmacy-billing/internal/notify"
)

type pipeline struct {
	db         *sql.DB
	engine     *application.AccountingService
	publisher  *interfaces.OutboxPublisher
	dispatcher *eventing.Dispatcher
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(db))
	return db
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db := openDB(t)

	cycles := billingpostgres.NewCycleRepository(db)
	resolver := billingpostgres.NewSubscriptionRepository(db)
	outbox := eventpostgres.NewOutboxStore(db)
	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(application.OrderStatusChanged{}, application.OrderClassified{})
	publisher := interfaces.NewOutboxPublisher(eventing.NewPublisher(outbox, interfaces.Producer, bus, zerolog.Nop()))

	engine, err := application.NewAccountingService(resolver, cycles, publisher, application.SystemClock{}, zerolog.Nop())
	require.NoError(t, err)
	trigger, err := application.NewOrderTrigger(engine)
	require.NoError(t, err)
	consumer, err := interfaces.NewOrderStatusConsumer(trigger, notify.NewLogNotifier(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	consumer.Subscribe(bus, eventpostgres.NewProcessedStore(db))

	return &pipeline{
		db:         db,
		engine:     engine,
		publisher:  publisher,
		dispatcher: eventing.NewDispatcher(bus, outbox, registry, eventpostgres.NewDLQStore(db)),
	}
}

// seedMerchant inserts a plan with quota free orders, an active
// subscription and an open cycle covering today.
func (p *pipeline) seedMerchant(t *testing.T, quota int64) (merchantID, cycleID string) {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()
	merchantID, cycleID, planID := "m-"+suffix, "c-"+suffix, "p-"+suffix
	today := time.Now().UTC().Truncate(24 * time.Hour)

	_, err := p.db.ExecContext(ctx, `INSERT INTO billing_plans (id, name, free_orders_per_period, overage_fee_bp) VALUES ($1, 'Basic', $2, 350)`, planID, quota)
	require.NoError(t, err)
	_, err = p.db.ExecContext(ctx, `INSERT INTO merchant_subscriptions (id, merchant_id, plan_id, status) VALUES ($1, $2, $3, 'active')`, "s-"+suffix, merchantID, planID)
	require.NoError(t, err)
	_, err = p.db.ExecContext(ctx, `INSERT INTO billing_cycles (id, merchant_id, period_start, period_end, status) VALUES ($1, $2, $3, $4, 'active')`,
		cycleID, merchantID, today.AddDate(0, 0, -3), today.AddDate(0, 0, 27))
	require.NoError(t, err)
	return merchantID, cycleID
}

func (p *pipeline) counters(t *testing.T, cycleID string) (free, overage, cents int64) {
	t.Helper()
	err := p.db.QueryRowContext(context.Background(),
		`SELECT free_orders_used, overage_orders, overage_amount_cents FROM billing_cycles WHERE id = $1`, cycleID).
		Scan(&free, &overage, &cents)
	require.NoError(t, err)
	return free, overage, cents
}

func TestPostgres_ConcurrentOrdersRespectQuota(t *testing.T) {
	p := newPipeline(t)
	merchantID, cycleID := p.seedMerchant(t, 3)

	const orders = 10
	var wg sync.WaitGroup
	errs := make(chan error, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.engine.ProcessOrder(context.Background(), application.ProcessOrderCommand{
				OrderID:    "o-" + uuid.NewString(),
				MerchantID: merchantID,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	free, overage, cents := p.counters(t, cycleID)
	assert.Equal(t, int64(3), free)
	assert.Equal(t, int64(7), overage)
	assert.Equal(t, int64(7*4), cents)
}

func TestPostgres_RedeliveredStatusChangeCountsOnce(t *testing.T) {
	p := newPipeline(t)
	merchantID, cycleID := p.seedMerchant(t, 5)
	ctx := context.Background()

	event := application.OrderStatusChanged{
		OrderID:    "o-" + uuid.NewString(),
		MerchantID: merchantID,
		OldStatus:  "em_rota",
		NewStatus:  "delivered",
	}
	require.NoError(t, p.publisher.Publish(ctx, event))
	require.NoError(t, p.dispatcher.Dispatch(ctx, 50))

	// a second event for the same order must be skipped by the ledger
	require.NoError(t, p.publisher.Publish(ctx, event))
	require.NoError(t, p.dispatcher.Dispatch(ctx, 50))

	free, overage, _ := p.counters(t, cycleID)
	assert.Equal(t, int64(1), free)
	assert.Equal(t, int64(0), overage)

	var rows int
	require.NoError(t, p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_classifications WHERE order_id = $1`, event.OrderID).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestPostgres_MissingSubscriptionIsDeadLettered(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	merchantID := "ghost-" + uuid.NewString()

	require.NoError(t, p.publisher.Publish(ctx, application.OrderStatusChanged{
		OrderID:    "o-" + uuid.NewString(),
		MerchantID: merchantID,
		NewStatus:  "delivered",
	}))
	require.NoError(t, p.dispatcher.Dispatch(ctx, 50))

	var dead int
	require.NoError(t, p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_events WHERE merchant_id = $1`, merchantID).Scan(&dead))
	assert.Equal(t, 1, dead)
}
