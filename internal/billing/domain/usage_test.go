package billing

import "testing"

func TestComputeUsage(t *testing.T) {
	plan := BillingPlan{Name: "Basic", FreeOrdersPerPeriod: 10, OverageFeeBP: 500}

	got := ComputeUsage(plan, BillingCycle{FreeOrdersUsed: 8})
	if got.PercentageUsed != 80 || !got.IsNearLimit || got.IsOverLimit || got.FreeOrdersRemaining != 2 {
		t.Fatalf("usage at 8/10 mismatch: %+v", got)
	}

	got = ComputeUsage(plan, BillingCycle{FreeOrdersUsed: 10, OverageOrders: 3, OverageAmountCents: 15})
	if got.PercentageUsed != 100 || !got.IsOverLimit || got.OverageAmountCents != 15 || got.FreeOrdersRemaining != 0 {
		t.Fatalf("usage at quota mismatch: %+v", got)
	}

	got = ComputeUsage(plan, BillingCycle{FreeOrdersUsed: 1})
	if got.IsNearLimit || got.PercentageUsed != 10 {
		t.Fatalf("usage at 1/10 mismatch: %+v", got)
	}

	got = ComputeUsage(BillingPlan{Name: "Zero"}, BillingCycle{})
	if got.PercentageUsed != 100 || !got.IsOverLimit {
		t.Fatalf("zero quota should be exhausted: %+v", got)
	}
}
