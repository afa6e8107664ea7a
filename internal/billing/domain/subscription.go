package billing

import "time"

// SubscriptionStatus is the lifecycle state of a merchant subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusOverdue  SubscriptionStatus = "overdue"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPending  SubscriptionStatus = "pending"
)

// Subscription binds a merchant to a plan.
type Subscription struct {
	ID         string             `json:"id"`
	MerchantID string             `json:"merchant_id"`
	PlanID     string             `json:"plan_id"`
	Status     SubscriptionStatus `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
}

// ResolvedSubscription is an active subscription joined with its plan.
type ResolvedSubscription struct {
	Subscription Subscription `json:"subscription"`
	Plan         BillingPlan  `json:"plan"`
}
