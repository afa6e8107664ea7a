package application

import (
	"context"
	"time"

	billing "pharmacy-billing/internal/billing/domain"
)

// OrderStatusChanged is emitted by the order lifecycle whenever an order status changes.
// OldStatus is empty when the order was created directly in NewStatus.
type OrderStatusChanged struct {
	OrderID    string    `json:"order_id"`
	MerchantID string    `json:"merchant_id"`
	NewStatus  string    `json:"new_status"`
	OldStatus  string    `json:"old_status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderClassified is emitted after an order has been counted against its cycle.
type OrderClassified struct {
	OrderID    string                 `json:"order_id"`
	MerchantID string                 `json:"merchant_id"`
	CycleID    string                 `json:"cycle_id"`
	Type       billing.Classification `json:"type"`
	FeeCents   int64                  `json:"fee_cents"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// CycleClosed is emitted when rollover closes a cycle and opens its successor.
type CycleClosed struct {
	CycleID     string    `json:"cycle_id"`
	MerchantID  string    `json:"merchant_id"`
	NextCycleID string    `json:"next_cycle_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e OrderStatusChanged) EventMerchantID() string { return e.MerchantID }
func (e OrderStatusChanged) EventTime() time.Time    { return e.OccurredAt }
func (e OrderClassified) EventMerchantID() string    { return e.MerchantID }
func (e OrderClassified) EventTime() time.Time       { return e.OccurredAt }
func (e CycleClosed) EventMerchantID() string        { return e.MerchantID }
func (e CycleClosed) EventTime() time.Time           { return e.OccurredAt }

// EventPublisher emits billing events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
