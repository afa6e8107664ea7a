package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	billing "pharmacy-billing/internal/billing/domain"
)

// UsageView is the merchant-facing billing status.
type UsageView struct {
	MerchantID   string                `json:"merchant_id"`
	Subscription billing.Subscription  `json:"subscription"`
	Plan         billing.BillingPlan   `json:"plan"`
	Cycle        *billing.BillingCycle `json:"current_cycle"`
	Usage        *billing.Usage        `json:"usage,omitempty"`
}

// UsageService answers read-only billing queries.
type UsageService struct {
	resolver billing.SubscriptionResolver
	cycles   billing.CycleStore
	plans    billing.PlanCatalog
}

// NewUsageService constructs the query service.
func NewUsageService(resolver billing.SubscriptionResolver, cycles billing.CycleStore, plans billing.PlanCatalog) (*UsageService, error) {
	if resolver == nil {
		return nil, errors.New("usage service: nil subscription resolver")
	}
	if cycles == nil {
		return nil, errors.New("usage service: nil cycle store")
	}
	if plans == nil {
		return nil, errors.New("usage service: nil plan catalog")
	}
	return &UsageService{resolver: resolver, cycles: cycles, plans: plans}, nil
}

// GetUsage returns the merchant's plan and current cycle consumption. A
// merchant without an active cycle gets a view without usage.
func (s *UsageService) GetUsage(ctx context.Context, merchantID string) (UsageView, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return UsageView{}, billing.ErrEmptyMerchantID
	}
	resolved, err := s.resolver.ResolveActiveSubscription(ctx, merchantID)
	if err != nil {
		return UsageView{}, err
	}
	view := UsageView{
		MerchantID:   merchantID,
		Subscription: resolved.Subscription,
		Plan:         resolved.Plan,
	}
	cycle, err := s.cycles.GetActiveCycle(ctx, merchantID)
	if err != nil && !errors.Is(err, billing.ErrCycleNotFound) {
		return UsageView{}, err
	}
	if cycle != nil {
		usage := billing.ComputeUsage(resolved.Plan, *cycle)
		view.Cycle = cycle
		view.Usage = &usage
	}
	return view, nil
}

// ListPlans returns the valid active plans. Invalid rows are dropped.
func (s *UsageService) ListPlans(ctx context.Context) ([]billing.BillingPlan, error) {
	plans, err := s.plans.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]billing.BillingPlan, 0, len(plans))
	for _, plan := range plans {
		if plan.Validate() != nil {
			continue
		}
		out = append(out, plan)
	}
	return out, nil
}

// GetStatement loads a cycle with the plan its merchant is currently on.
func (s *UsageService) GetStatement(ctx context.Context, cycleID string) (Statement, error) {
	if strings.TrimSpace(cycleID) == "" {
		return Statement{}, fmt.Errorf("%w: cycle_id is required", billing.ErrBadRequest)
	}
	cycle, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return Statement{}, err
	}
	if cycle == nil {
		return Statement{}, billing.ErrCycleNotFound
	}
	stmt := Statement{Cycle: *cycle}
	resolved, err := s.resolver.ResolveActiveSubscription(ctx, cycle.MerchantID)
	switch {
	case err == nil:
		stmt.Plan = &resolved.Plan
	case errors.Is(err, billing.ErrSubscriptionNotFound):
	default:
		return Statement{}, err
	}
	return stmt, nil
}

// Statement is the data rendered into cycle statements.
type Statement struct {
	Cycle billing.BillingCycle
	Plan  *billing.BillingPlan
}
