package application_test

import (
	"context"
	"errors"
	"testing"

	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/billing/infrastructure/memory"
)

func TestOrderTrigger_OnlyDeliveryTransitionsReachEngine(t *testing.T) {
	store := memory.NewStore()
	cycle := seedMerchant(store, "m-1", 5, 500)
	trigger, err := application.NewOrderTrigger(newEngine(t, store, nil))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	ctx := context.Background()

	events := []application.OrderStatusChanged{
		{OrderID: "o-1", MerchantID: "m-1", NewStatus: "em_rota", OldStatus: "preparando"},
		{OrderID: "o-1", MerchantID: "m-1", NewStatus: "delivered", OldStatus: "em_rota"},
		{OrderID: "o-1", MerchantID: "m-1", NewStatus: "delivered", OldStatus: "delivered"},
		{OrderID: "o-1", MerchantID: "m-1", NewStatus: "entregue", OldStatus: "delivered"},
	}
	var kinds []billing.Classification
	for _, event := range events {
		result, err := trigger.HandleOrderStatusChanged(ctx, event)
		if err != nil {
			t.Fatalf("handle %+v: %v", event, err)
		}
		kinds = append(kinds, result.Type)
	}
	want := []billing.Classification{
		billing.ClassificationSkipped,
		billing.ClassificationFree,
		billing.ClassificationSkipped,
		billing.ClassificationSkipped,
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: got=%s want=%s", i, kinds[i], want[i])
		}
	}
	stored, _ := store.GetCycle(ctx, cycle.ID)
	if stored.FreeOrdersUsed != 1 {
		t.Fatalf("expected a single increment, got %d", stored.FreeOrdersUsed)
	}
}

func TestOrderTrigger_SynonymsClassifyIdentically(t *testing.T) {
	results := make([]application.ProcessResult, 0, 2)
	for _, status := range []string{"delivered", "entregue"} {
		store := memory.NewStore()
		seedMerchant(store, "m-1", 1, 500)
		trigger, _ := application.NewOrderTrigger(newEngine(t, store, nil))
		result, err := trigger.HandleOrderStatusChanged(context.Background(), application.OrderStatusChanged{
			OrderID: "o-1", MerchantID: "m-1", NewStatus: status, OldStatus: "preparando",
		})
		if err != nil {
			t.Fatalf("status %s: %v", status, err)
		}
		results = append(results, result)
	}
	if results[0].Type != results[1].Type || *results[0].Updated.FreeOrdersUsed != *results[1].Updated.FreeOrdersUsed {
		t.Fatalf("synonym results differ: %+v vs %+v", results[0], results[1])
	}
}

func TestOrderTrigger_CreatedDelivered(t *testing.T) {
	store := memory.NewStore()
	seedMerchant(store, "m-1", 1, 500)
	trigger, _ := application.NewOrderTrigger(newEngine(t, store, nil))
	result, err := trigger.HandleOrderStatusChanged(context.Background(), application.OrderStatusChanged{
		OrderID: "o-1", MerchantID: "m-1", NewStatus: "delivered",
	})
	if err != nil || result.Type != billing.ClassificationFree {
		t.Fatalf("expected FREE for order created delivered, got %+v err=%v", result, err)
	}
}

func TestOrderTrigger_MissingIdentifiersAreBadRequest(t *testing.T) {
	store := memory.NewStore()
	seedMerchant(store, "m-1", 5, 500)
	trigger, err := application.NewOrderTrigger(newEngine(t, store, nil))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	events := []application.OrderStatusChanged{
		{MerchantID: "m-1", NewStatus: "em_rota", OldStatus: "preparando"},
		{OrderID: "o-1", NewStatus: "em_rota", OldStatus: "preparando"},
		{OrderID: " ", MerchantID: "m-1", NewStatus: "delivered", OldStatus: "em_rota"},
		{OrderID: "o-1", MerchantID: "", NewStatus: "delivered", OldStatus: "em_rota"},
	}
	for _, event := range events {
		result, err := trigger.HandleOrderStatusChanged(context.Background(), event)
		if !errors.Is(err, billing.ErrBadRequest) {
			t.Fatalf("event %+v: expected bad request, got result=%+v err=%v", event, result, err)
		}
		if result.Success {
			t.Fatalf("event %+v: bad request must not report success", event)
		}
	}
}
