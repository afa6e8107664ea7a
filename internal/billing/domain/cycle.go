package billing

import (
	"fmt"
	"time"
)

// CycleStatus is the lifecycle state of a billing cycle.
type CycleStatus string

const (
	CycleStatusActive CycleStatus = "active"
	CycleStatusClosed CycleStatus = "closed"
)

// DefaultCycleLengthDays is the rolling window length.
const DefaultCycleLengthDays = 30

// BillingCycle is one rolling accounting period for a merchant.
// Counters never decrease within a cycle.
type BillingCycle struct {
	ID                 string      `json:"id"`
	MerchantID         string      `json:"merchant_id"`
	PeriodStart        time.Time   `json:"period_start"`
	PeriodEnd          time.Time   `json:"period_end"`
	Status             CycleStatus `json:"status"`
	FreeOrdersUsed     int64       `json:"free_orders_used"`
	OverageOrders      int64       `json:"overage_orders"`
	OverageAmountCents int64       `json:"overage_amount_cents"`
	ClosedAt           time.Time   `json:"closed_at"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// IsActive reports whether the cycle still accepts counter updates.
func (c BillingCycle) IsActive() bool {
	return c.Status == CycleStatusActive
}

// Apply returns a copy of the cycle with the delta added to its counters.
func (c BillingCycle) Apply(delta CounterDelta, at time.Time) BillingCycle {
	c.FreeOrdersUsed += delta.FreeOrders
	c.OverageOrders += delta.OverageOrders
	c.OverageAmountCents += delta.OverageAmountCents
	if !at.IsZero() {
		c.UpdatedAt = at
	}
	return c
}

// NextCycle builds the cycle that follows prev: it starts the day after prev ends
// and runs for lengthDays, with zeroed counters.
func NextCycle(prev BillingCycle, id string, lengthDays int, now time.Time) BillingCycle {
	if lengthDays <= 0 {
		lengthDays = DefaultCycleLengthDays
	}
	end := truncateDay(prev.PeriodEnd)
	start := end.AddDate(0, 0, 1)
	return BillingCycle{
		ID:          id,
		MerchantID:  prev.MerchantID,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 0, lengthDays),
		Status:      CycleStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsExpired reports whether the cycle period ended before the given day.
func (c BillingCycle) IsExpired(today time.Time) bool {
	return truncateDay(c.PeriodEnd).Before(truncateDay(today))
}

// CounterDelta is a targeted increment applied to a cycle row.
type CounterDelta struct {
	FreeOrders         int64 `json:"free_orders,omitempty"`
	OverageOrders      int64 `json:"overage_orders,omitempty"`
	OverageAmountCents int64 `json:"overage_amount_cents,omitempty"`
}

// IsZero reports an empty delta.
func (d CounterDelta) IsZero() bool {
	return d.FreeOrders == 0 && d.OverageOrders == 0 && d.OverageAmountCents == 0
}

// Validate rejects empty or negative deltas; counters are monotonic.
func (d CounterDelta) Validate() error {
	if d.FreeOrders < 0 || d.OverageOrders < 0 || d.OverageAmountCents < 0 {
		return fmt.Errorf("%w: negative increment", ErrInvalidDelta)
	}
	if d.IsZero() {
		return fmt.Errorf("%w: empty increment", ErrInvalidDelta)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
