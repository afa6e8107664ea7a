package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	billing "pharmacy-billing/internal/billing/domain"
)

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) ResolveActiveSubscription(ctx context.Context, merchantID string) (*billing.ResolvedSubscription, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &billing.ResolvedSubscription{
		Subscription: billing.Subscription{ID: "s-" + merchantID, MerchantID: merchantID},
		Plan:         billing.BillingPlan{ID: "p", FreeOrdersPerPeriod: 10},
	}, nil
}

func TestSubscriptionCache_HitsAfterFirstLookup(t *testing.T) {
	inner := &countingResolver{}
	resolver, err := NewSubscriptionCache(inner, 8, time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := resolver.ResolveActiveSubscription(context.Background(), "m-1")
		if err != nil || got.Subscription.ID != "s-m-1" {
			t.Fatalf("resolve: %+v err=%v", got, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
}

func TestSubscriptionCache_DoesNotCacheMisses(t *testing.T) {
	inner := &countingResolver{err: billing.ErrSubscriptionNotFound}
	resolver, _ := NewSubscriptionCache(inner, 8, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := resolver.ResolveActiveSubscription(context.Background(), "m-1"); !errors.Is(err, billing.ErrSubscriptionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("misses must not be cached, got %d calls", inner.calls)
	}
}

func TestSubscriptionCache_DisabledReturnsInner(t *testing.T) {
	inner := &countingResolver{}
	resolver, err := NewSubscriptionCache(inner, 8, 0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if resolver != billing.SubscriptionResolver(inner) {
		t.Fatalf("zero ttl should return the inner resolver")
	}
}
