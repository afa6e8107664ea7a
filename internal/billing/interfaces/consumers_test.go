package interfaces_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/billing/infrastructure/archive"
	"pharmacy-billing/internal/billing/infrastructure/memory"
	"pharmacy-billing/internal/billing/interfaces"
	"pharmacy-billing/internal/eventing"
	eventmemory "pharmacy-billing/internal/eventing/infrastructure/memory"
	"pharmacy-billing/internal/notify"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.AlertMessage
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.AlertMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memoryArchive) Put(_ context.Context, key string, data []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = data
	return nil
}

func seed(store *memory.Store, merchantID string, quota int64) {
	store.PutPlan(billing.BillingPlan{ID: "p-" + merchantID, Name: "Basic", FreeOrdersPerPeriod: quota, OverageFeeBP: 500, IsActive: true})
	store.PutSubscription(billing.Subscription{ID: "s-" + merchantID, MerchantID: merchantID, PlanID: "p-" + merchantID, Status: billing.SubscriptionStatusActive})
	store.PutCycle(billing.BillingCycle{
		ID:          "c-" + merchantID,
		MerchantID:  merchantID,
		PeriodStart: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
		Status:      billing.CycleStatusActive,
	})
}

type pipeline struct {
	store      *memory.Store
	outbox     *eventmemory.OutboxStore
	dlq        *eventmemory.DLQStore
	dispatcher *eventing.Dispatcher
	publisher  *interfaces.OutboxPublisher
	notifier   *recordingNotifier
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	store := memory.NewStore()
	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(application.OrderStatusChanged{}, application.OrderClassified{}, application.CycleClosed{})
	outbox := eventmemory.NewOutboxStore()
	dlq := eventmemory.NewDLQStore()
	publisher := interfaces.NewOutboxPublisher(eventing.NewPublisher(outbox, interfaces.Producer, bus, zerolog.Nop()))

	engine, err := application.NewAccountingService(store, store, publisher, fixedClock{now: testNow}, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	trigger, err := application.NewOrderTrigger(engine)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	notifier := &recordingNotifier{}
	consumer, err := interfaces.NewOrderStatusConsumer(trigger, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	consumer.Subscribe(bus, eventmemory.NewProcessedStore())
	interfaces.NewClassifiedLogConsumer(zerolog.Nop()).Subscribe(bus, nil)

	dispatcher := eventing.NewDispatcher(bus, outbox, registry, dlq,
		eventing.WithRetryable(billing.IsRetryable),
		eventing.WithMaxAttempts(3),
	)
	return &pipeline{store: store, outbox: outbox, dlq: dlq, dispatcher: dispatcher, publisher: publisher, notifier: notifier}
}

func (p *pipeline) statusChange(t *testing.T, orderID, merchantID, newStatus, oldStatus string) {
	t.Helper()
	err := p.publisher.Publish(context.Background(), application.OrderStatusChanged{
		OrderID: orderID, MerchantID: merchantID, NewStatus: newStatus, OldStatus: oldStatus, OccurredAt: testNow,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	if err := p.dispatcher.Dispatch(context.Background(), 100); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

func TestOrderStatusPipeline_ClassifiesDeliveryTransitions(t *testing.T) {
	p := newPipeline(t)
	seed(p.store, "m-1", 1)

	p.statusChange(t, "o-1", "m-1", "delivered", "preparing")
	p.statusChange(t, "o-2", "m-1", "entregue", "preparando")
	// edits on a delivered order and non-delivery statuses do not count
	p.statusChange(t, "o-1", "m-1", "delivered", "delivered")
	p.statusChange(t, "o-3", "m-1", "preparing", "")
	p.drain(t)

	cycle, err := p.store.GetActiveCycle(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("active cycle: %v", err)
	}
	if cycle.FreeOrdersUsed != 1 || cycle.OverageOrders != 1 || cycle.OverageAmountCents != 5 {
		t.Fatalf("counter mismatch: %+v", cycle)
	}
	if rec, ok := p.store.Classification("o-2"); !ok || rec.Type != billing.ClassificationOverage {
		t.Fatalf("o-2 classification mismatch: %+v", rec)
	}
	if len(p.dlq.Entries()) != 0 {
		t.Fatalf("unexpected dead letters: %+v", p.dlq.Entries())
	}
	// OrderClassified events were written while handling and are delivered next round
	p.drain(t)
	if pending, _ := p.outbox.ListPending(context.Background(), 10); len(pending) != 0 {
		t.Fatalf("expected drained outbox, got %d", len(pending))
	}
}

func TestOrderStatusPipeline_MissingCycleAlertsAndDeadLetters(t *testing.T) {
	p := newPipeline(t)
	p.store.PutPlan(billing.BillingPlan{ID: "p", Name: "P", FreeOrdersPerPeriod: 5, IsActive: true})
	p.store.PutSubscription(billing.Subscription{ID: "s", MerchantID: "m-9", PlanID: "p", Status: billing.SubscriptionStatusActive})

	p.statusChange(t, "o-1", "m-9", "delivered", "")
	p.drain(t)

	entries := p.dlq.Entries()
	if len(entries) != 1 || entries[0].Envelope.MerchantID != "m-9" {
		t.Fatalf("expected one dead letter for m-9, got %+v", entries)
	}
	if len(p.notifier.msgs) != 1 || p.notifier.msgs[0].ErrorCode != billing.CodeCycleNotFound || p.notifier.msgs[0].EventID == "" {
		t.Fatalf("alert mismatch: %+v", p.notifier.msgs)
	}
	if _, ok := p.store.Classification("o-1"); ok {
		t.Fatalf("no classification may be recorded without a cycle")
	}
}

type stubTrigger struct {
	err error
}

func (s stubTrigger) HandleOrderStatusChanged(_ context.Context, evt application.OrderStatusChanged) (application.ProcessResult, error) {
	return application.ProcessResult{OrderID: evt.OrderID}, s.err
}

func TestOrderStatusConsumer_StorageFaultIsNotAnAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	consumer, _ := interfaces.NewOrderStatusConsumer(stubTrigger{err: billing.ErrUpdateFailed}, notifier, zerolog.Nop())
	err := consumer.Handle(context.Background(), application.OrderStatusChanged{OrderID: "o-1", MerchantID: "m-1"})
	if !errors.Is(err, billing.ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got %v", err)
	}
	if len(notifier.msgs) != 0 {
		t.Fatalf("storage faults are retried, not alerted")
	}
	if err := consumer.Handle(context.Background(), "not an event"); err == nil {
		t.Fatalf("expected error for unexpected payload")
	}
}

func TestNewOrderStatusConsumer_NilTrigger(t *testing.T) {
	if _, err := interfaces.NewOrderStatusConsumer(nil, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStatementArchiveConsumer_StoresPDF(t *testing.T) {
	store := memory.NewStore()
	seed(store, "m-1", 3)
	usage, err := application.NewUsageService(store, store, store)
	if err != nil {
		t.Fatalf("usage service: %v", err)
	}
	target := &memoryArchive{}
	consumer, err := interfaces.NewStatementArchiveConsumer(usage, target, "BRL", zerolog.Nop())
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	err = consumer.Handle(context.Background(), application.CycleClosed{CycleID: "c-m-1", MerchantID: "m-1", NextCycleID: "c-2"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	data, ok := target.objects[archive.StatementKey("m-1", "c-m-1", "pdf")]
	if !ok || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected archived pdf, got keys %v", target.objects)
	}

	err = consumer.Handle(context.Background(), application.CycleClosed{CycleID: "missing", MerchantID: "m-1"})
	if !errors.Is(err, billing.ErrCycleNotFound) {
		t.Fatalf("expected ErrCycleNotFound, got %v", err)
	}
}
