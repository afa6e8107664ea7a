package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/config"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		StoreDriver: config.DriverMemory,
		Currency:    "BRL",
		Processed:   config.ProcessedConf{Store: config.ProcessedNone},
		Cache:       config.CacheConfig{TTL: time.Second, Size: 16},
		Dispatch:    config.DispatchConf{Interval: time.Second, Batch: 50, MaxAttempts: 3},
		Rollover:    config.RolloverConf{Schedule: "@daily", CycleLengthDays: 30, Batch: 10},
		Archive:     config.ArchiveConfig{Provider: config.ArchiveLocal, LocalPath: t.TempDir()},
	}
}

func seedMerchant(t *testing.T, a *app, periodStart, periodEnd time.Time) {
	t.Helper()
	a.memory.PutPlan(billing.BillingPlan{ID: "basic", Name: "Basic", FreeOrdersPerPeriod: 1, OverageFeeBP: 500, IsActive: true})
	a.memory.PutSubscription(billing.Subscription{ID: "s-1", MerchantID: "m-1", PlanID: "basic", Status: billing.SubscriptionStatusActive, StartedAt: periodStart})
	a.memory.PutCycle(billing.BillingCycle{ID: "c-1", MerchantID: "m-1", PeriodStart: periodStart, PeriodEnd: periodEnd, Status: billing.CycleStatusActive})
}

func TestBuildApp_StatusChangeFlowsThroughOutbox(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, memoryConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seedMerchant(t, a, today.AddDate(0, 0, -5), today.AddDate(0, 0, 20))

	for _, orderID := range []string{"o-1", "o-2"} {
		require.NoError(t, a.publisher.Publish(ctx, application.OrderStatusChanged{
			OrderID:    orderID,
			MerchantID: "m-1",
			OldStatus:  "em_rota",
			NewStatus:  "delivered",
			OccurredAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, a.dispatcher.Dispatch(ctx, 10))

	first, ok := a.memory.Classification("o-1")
	require.True(t, ok)
	assert.Equal(t, billing.ClassificationFree, first.Type)
	second, ok := a.memory.Classification("o-2")
	require.True(t, ok)
	assert.Equal(t, billing.ClassificationOverage, second.Type)

	view, err := a.usage.GetUsage(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, view.Cycle)
	assert.Equal(t, int64(1), view.Cycle.FreeOrdersUsed)
	assert.Equal(t, int64(1), view.Cycle.OverageOrders)
	assert.Equal(t, int64(5), view.Cycle.OverageAmountCents)
}

func TestBuildApp_CanceledSubscriptionStopsClassification(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Cache.TTL = time.Hour
	a, err := buildApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seedMerchant(t, a, today.AddDate(0, 0, -5), today.AddDate(0, 0, 20))

	first, err := a.engine.ProcessOrder(ctx, application.ProcessOrderCommand{OrderID: "o-1", MerchantID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, billing.ClassificationFree, first.Type)
	_, err = a.usage.GetUsage(ctx, "m-1")
	require.NoError(t, err)

	a.memory.PutSubscription(billing.Subscription{ID: "s-1", MerchantID: "m-1", PlanID: "basic", Status: billing.SubscriptionStatusCanceled, StartedAt: today.AddDate(0, 0, -5)})

	_, err = a.engine.ProcessOrder(ctx, application.ProcessOrderCommand{OrderID: "o-2", MerchantID: "m-1"})
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	_, ok := a.memory.Classification("o-2")
	assert.False(t, ok)
}

func TestBuildApp_RolloverArchivesStatement(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	a, err := buildApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seedMerchant(t, a, today.AddDate(0, 0, -31), today.AddDate(0, 0, -1))

	report, err := a.rollover.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Closed, 1)
	require.NoError(t, a.dispatcher.Dispatch(ctx, 10))

	data, err := os.ReadFile(filepath.Join(cfg.Archive.LocalPath, "statements", "m-1", "c-1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestBuildApp_RejectsBadArchive(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Archive = config.ArchiveConfig{Provider: config.ArchiveS3}
	_, err := buildApp(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}
