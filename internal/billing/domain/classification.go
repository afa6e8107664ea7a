package billing

import "time"

// Classification is the billing outcome for a delivered order.
type Classification string

const (
	ClassificationFree    Classification = "FREE"
	ClassificationOverage Classification = "OVERAGE"
	ClassificationSkipped Classification = "SKIPPED"
)

// Decision is the result of classifying one order against a cycle.
type Decision struct {
	Type     Classification
	Delta    CounterDelta
	FeeCents int64
}

// Classify decides whether the next order consumes the free quota or becomes
// overage. The comparison is strict: the order that brings free usage up to the
// quota is still FREE, the first one found at the quota is OVERAGE.
func Classify(plan BillingPlan, cycle BillingCycle) Decision {
	if cycle.FreeOrdersUsed < plan.FreeOrdersPerPeriod {
		return Decision{
			Type:  ClassificationFree,
			Delta: CounterDelta{FreeOrders: 1},
		}
	}
	fee := plan.OverageFeeCents()
	return Decision{
		Type:     ClassificationOverage,
		Delta:    CounterDelta{OverageOrders: 1, OverageAmountCents: fee},
		FeeCents: fee,
	}
}

// OrderClassification is the durable record that an order has been classified.
// An order has exactly one such record; there is no way back to unclassified.
type OrderClassification struct {
	OrderID      string         `json:"order_id"`
	MerchantID   string         `json:"merchant_id"`
	CycleID      string         `json:"cycle_id"`
	Type         Classification `json:"type"`
	FeeCents     int64          `json:"fee_cents"`
	ClassifiedAt time.Time      `json:"classified_at"`
}
