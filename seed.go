package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/billing/infrastructure/memory"
)

// seedFile is the YAML layout accepted by serve --seed.
type seedFile struct {
	Plans []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		FreeOrders   int64  `yaml:"free_orders_per_period"`
		OverageFeeBP int64  `yaml:"overage_fee_bp"`
		Inactive     bool   `yaml:"inactive"`
	} `yaml:"plans"`
	Subscriptions []struct {
		ID         string `yaml:"id"`
		MerchantID string `yaml:"merchant_id"`
		PlanID     string `yaml:"plan_id"`
		Status     string `yaml:"status"`
	} `yaml:"subscriptions"`
	Cycles []struct {
		ID          string `yaml:"id"`
		MerchantID  string `yaml:"merchant_id"`
		PeriodStart string `yaml:"period_start"`
		PeriodEnd   string `yaml:"period_end"`
	} `yaml:"cycles"`
}

func loadSeed(path string, store *memory.Store) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}

	for _, p := range seed.Plans {
		plan := billing.BillingPlan{
			ID:                  p.ID,
			Name:                p.Name,
			FreeOrdersPerPeriod: p.FreeOrders,
			OverageFeeBP:        p.OverageFeeBP,
			IsActive:            !p.Inactive,
		}
		if err := plan.Validate(); err != nil {
			return fmt.Errorf("seed plan %s: %w", p.ID, err)
		}
		store.PutPlan(plan)
	}

	now := time.Now().UTC()
	for _, s := range seed.Subscriptions {
		status := billing.SubscriptionStatus(s.Status)
		if status == "" {
			status = billing.SubscriptionStatusActive
		}
		store.PutSubscription(billing.Subscription{
			ID:         s.ID,
			MerchantID: s.MerchantID,
			PlanID:     s.PlanID,
			Status:     status,
			StartedAt:  now,
		})
	}

	for _, c := range seed.Cycles {
		start, err := time.Parse(time.DateOnly, c.PeriodStart)
		if err != nil {
			return fmt.Errorf("seed cycle %s: period_start: %w", c.ID, err)
		}
		end, err := time.Parse(time.DateOnly, c.PeriodEnd)
		if err != nil {
			return fmt.Errorf("seed cycle %s: period_end: %w", c.ID, err)
		}
		if end.Before(start) {
			return fmt.Errorf("seed cycle %s: period_end before period_start", c.ID)
		}
		store.PutCycle(billing.BillingCycle{
			ID:          c.ID,
			MerchantID:  c.MerchantID,
			PeriodStart: start,
			PeriodEnd:   end,
			Status:      billing.CycleStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return nil
}
