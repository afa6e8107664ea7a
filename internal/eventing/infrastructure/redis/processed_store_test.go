package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
)

func setupProcessedStore(t *testing.T) (*ProcessedStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := Dial(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewProcessedStore(client, WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, mr
}

func TestProcessedStore_MarkAndCheck(t *testing.T) {
	store, mr := setupProcessedStore(t)
	ctx := context.Background()

	seen, err := store.HasProcessed(ctx, "evt-1", "billing.order_status")
	if err != nil {
		t.Fatalf("has processed: %v", err)
	}
	if seen {
		t.Fatalf("expected unseen event")
	}

	if err := store.MarkProcessed(ctx, "evt-1", "billing.order_status"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, err = store.HasProcessed(ctx, "evt-1", "billing.order_status")
	if err != nil || !seen {
		t.Fatalf("expected seen event, got seen=%v err=%v", seen, err)
	}

	other, err := store.HasProcessed(ctx, "evt-1", "another.consumer")
	if err != nil || other {
		t.Fatalf("markers must be per consumer, got %v err=%v", other, err)
	}

	ttl := mr.TTL("billing:processed:billing.order_status:evt-1")
	if ttl != time.Hour {
		t.Fatalf("ttl mismatch: %s", ttl)
	}

	mr.FastForward(2 * time.Hour)
	seen, err = store.HasProcessed(ctx, "evt-1", "billing.order_status")
	if err != nil || seen {
		t.Fatalf("expected marker to expire, got seen=%v err=%v", seen, err)
	}
}

func TestProcessedStore_InvalidArguments(t *testing.T) {
	store, _ := setupProcessedStore(t)
	if _, err := store.HasProcessed(context.Background(), "", "c"); err == nil {
		t.Fatalf("expected error for empty event id")
	}
	if err := store.MarkProcessed(context.Background(), "e", ""); err == nil {
		t.Fatalf("expected error for empty consumer")
	}
	if _, err := NewProcessedStore((*goredis.Client)(nil)); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
