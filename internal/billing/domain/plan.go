// Package billing holds the billing-cycle accounting model: plans, subscriptions,
// rolling cycles and the per-order FREE/OVERAGE classification.
package billing

import (
	"fmt"
	"strings"
)

const basisPointsScale = 10000

// BillingPlan is immutable reference data: the free order quota and overage rate.
type BillingPlan struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	FreeOrdersPerPeriod int64  `json:"free_orders_per_period"`
	OverageFeeBP        int64  `json:"overage_fee_bp"`
	IsActive            bool   `json:"is_active"`
}

// OverageFeeCents returns the fee charged per overage order.
func (p BillingPlan) OverageFeeCents() int64 {
	return OverageFeeCents(p.OverageFeeBP)
}

// Validate checks plan reference data ranges.
func (p BillingPlan) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPlan)
	}
	if p.FreeOrdersPerPeriod < 0 {
		return fmt.Errorf("%w: free_orders_per_period must be >= 0", ErrInvalidPlan)
	}
	if p.OverageFeeBP < 0 || p.OverageFeeBP > basisPointsScale {
		return fmt.Errorf("%w: overage_fee_bp must be within [0, %d]", ErrInvalidPlan, basisPointsScale)
	}
	return nil
}

// OverageFeeCents converts a basis-point rate to cents: round(bp * 100 / 10000),
// halves rounded up.
func OverageFeeCents(bp int64) int64 {
	if bp <= 0 {
		return 0
	}
	return (bp*100 + basisPointsScale/2) / basisPointsScale
}
