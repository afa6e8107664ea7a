package postgres

import (
	"context"
	"database/sql"
	"errors"

	billing "pharmacy-billing/internal/billing/domain"
)

// SubscriptionRepository reads subscriptions joined with their plans.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository constructs a repository.
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ResolveActiveSubscription returns the merchant's active subscription with plan
// terms. When more than one row is active the most recently started wins.
func (r *SubscriptionRepository) ResolveActiveSubscription(ctx context.Context, merchantID string) (*billing.ResolvedSubscription, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("subscription repo: nil db")
	}
	if merchantID == "" {
		return nil, billing.ErrEmptyMerchantID
	}
	row := r.db.QueryRowContext(ctx, `
SELECT s.id, s.merchant_id, s.plan_id, s.status, s.started_at,
	p.id, p.name, p.free_orders_per_period, p.overage_fee_bp, p.is_active
FROM merchant_subscriptions s
JOIN billing_plans p ON p.id = s.plan_id
WHERE s.merchant_id = $1 AND s.status = 'active'
ORDER BY s.started_at DESC
LIMIT 1`, merchantID)

	var resolved billing.ResolvedSubscription
	var status string
	err := row.Scan(
		&resolved.Subscription.ID,
		&resolved.Subscription.MerchantID,
		&resolved.Subscription.PlanID,
		&status,
		&resolved.Subscription.StartedAt,
		&resolved.Plan.ID,
		&resolved.Plan.Name,
		&resolved.Plan.FreeOrdersPerPeriod,
		&resolved.Plan.OverageFeeBP,
		&resolved.Plan.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	resolved.Subscription.Status = billing.SubscriptionStatus(status)
	return &resolved, nil
}

// PlanRepository reads the plan catalog.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository constructs a repository.
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// ListActivePlans lists plans offered to merchants, smallest quota first.
func (r *PlanRepository) ListActivePlans(ctx context.Context) ([]billing.BillingPlan, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plan repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, free_orders_per_period, overage_fee_bp, is_active
FROM billing_plans
WHERE is_active = TRUE
ORDER BY free_orders_per_period ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []billing.BillingPlan
	for rows.Next() {
		var plan billing.BillingPlan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.FreeOrdersPerPeriod, &plan.OverageFeeBP, &plan.IsActive); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return plans, nil
}

// GetPlan fetches a plan by id.
func (r *PlanRepository) GetPlan(ctx context.Context, planID string) (*billing.BillingPlan, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plan repo: nil db")
	}
	var plan billing.BillingPlan
	err := r.db.QueryRowContext(ctx, `
SELECT id, name, free_orders_per_period, overage_fee_bp, is_active
FROM billing_plans
WHERE id = $1`, planID).Scan(&plan.ID, &plan.Name, &plan.FreeOrdersPerPeriod, &plan.OverageFeeBP, &plan.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
