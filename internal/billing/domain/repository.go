package billing

import (
	"context"
	"time"
)

// SubscriptionResolver finds the active subscription of a merchant joined with its plan.
// Implementations return ErrSubscriptionNotFound when none is active.
type SubscriptionResolver interface {
	ResolveActiveSubscription(ctx context.Context, merchantID string) (*ResolvedSubscription, error)
}

// PlanCatalog reads plan reference data.
type PlanCatalog interface {
	ListActivePlans(ctx context.Context) ([]BillingPlan, error)
	GetPlan(ctx context.Context, planID string) (*BillingPlan, error)
}

// CycleStore reads the active cycle and applies targeted counter increments.
// ApplyCounterUpdate must increment at the storage layer; it never writes
// caller-computed totals.
type CycleStore interface {
	GetActiveCycle(ctx context.Context, merchantID string) (*BillingCycle, error)
	GetCycle(ctx context.Context, cycleID string) (*BillingCycle, error)
	ApplyCounterUpdate(ctx context.Context, cycleID string, delta CounterDelta) (*BillingCycle, error)
}

// CycleTx is the storage view available while a merchant's active cycle is locked.
type CycleTx interface {
	CycleStore
	IsClassified(ctx context.Context, orderID string) (bool, error)
	RecordClassification(ctx context.Context, record OrderClassification) error
}

// CycleTransactor serialises read-classify-write sequences per merchant.
// The callback's writes commit together or not at all.
type CycleTransactor interface {
	WithinMerchantLock(ctx context.Context, merchantID string, fn func(ctx context.Context, tx CycleTx) error) error
}

// RolloverStore supports the rolling-window process that closes expired cycles.
type RolloverStore interface {
	ListExpiredActiveCycles(ctx context.Context, today time.Time, limit int) ([]BillingCycle, error)
	CloseAndOpenNext(ctx context.Context, closing BillingCycle, next BillingCycle, closedAt time.Time) error
}
