package billing

// NearLimitPercent is the quota usage from which a merchant is warned.
const NearLimitPercent = 80

// Usage summarises quota consumption of one cycle.
type Usage struct {
	FreeOrdersLimit     int64 `json:"free_orders_limit"`
	FreeOrdersUsed      int64 `json:"free_orders_used"`
	FreeOrdersRemaining int64 `json:"free_orders_remaining"`
	OverageOrders       int64 `json:"overage_orders"`
	OverageAmountCents  int64 `json:"overage_amount_cents"`
	PercentageUsed      int64 `json:"percentage_used"`
	IsNearLimit         bool  `json:"is_near_limit"`
	IsOverLimit         bool  `json:"is_over_limit"`
}

// ComputeUsage derives the usage summary. A zero quota counts as fully used.
func ComputeUsage(plan BillingPlan, cycle BillingCycle) Usage {
	limit := plan.FreeOrdersPerPeriod
	used := cycle.FreeOrdersUsed

	percent := int64(100)
	if limit > 0 {
		percent = used * 100 / limit
		if percent > 100 {
			percent = 100
		}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		FreeOrdersLimit:     limit,
		FreeOrdersUsed:      used,
		FreeOrdersRemaining: remaining,
		OverageOrders:       cycle.OverageOrders,
		OverageAmountCents:  cycle.OverageAmountCents,
		PercentageUsed:      percent,
		IsNearLimit:         percent >= NearLimitPercent,
		IsOverLimit:         used >= limit,
	}
}
