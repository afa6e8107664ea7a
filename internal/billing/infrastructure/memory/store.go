// Package memory is the in-process billing store used by the memory driver and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	billing "pharmacy-billing/internal/billing/domain"
)

// Store keeps plans, subscriptions, cycles and the classification ledger in memory.
type Store struct {
	mu            sync.RWMutex
	plans         map[string]billing.BillingPlan
	subscriptions map[string]billing.Subscription
	cycles        map[string]billing.BillingCycle
	ledger        map[string]billing.OrderClassification

	locksMu sync.Mutex
	locks   map[string]*merchantLock

	now func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		plans:         make(map[string]billing.BillingPlan),
		subscriptions: make(map[string]billing.Subscription),
		cycles:        make(map[string]billing.BillingCycle),
		ledger:        make(map[string]billing.OrderClassification),
		locks:         make(map[string]*merchantLock),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutPlan inserts or replaces a plan.
func (s *Store) PutPlan(plan billing.BillingPlan) {
	s.mu.Lock()
	s.plans[plan.ID] = plan
	s.mu.Unlock()
}

// PutSubscription inserts or replaces a subscription.
func (s *Store) PutSubscription(sub billing.Subscription) {
	s.mu.Lock()
	s.subscriptions[sub.ID] = sub
	s.mu.Unlock()
}

// PutCycle inserts or replaces a cycle.
func (s *Store) PutCycle(cycle billing.BillingCycle) {
	s.mu.Lock()
	s.cycles[cycle.ID] = cycle
	s.mu.Unlock()
}

// Classification returns the ledger entry of an order.
func (s *Store) Classification(orderID string) (billing.OrderClassification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.ledger[orderID]
	return record, ok
}

// ResolveActiveSubscription returns the newest active subscription with its plan.
func (s *Store) ResolveActiveSubscription(ctx context.Context, merchantID string) (*billing.ResolvedSubscription, error) {
	_ = ctx
	if merchantID == "" {
		return nil, billing.ErrEmptyMerchantID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *billing.Subscription
	for _, sub := range s.subscriptions {
		if sub.MerchantID != merchantID || sub.Status != billing.SubscriptionStatusActive {
			continue
		}
		if best == nil || sub.StartedAt.After(best.StartedAt) {
			candidate := sub
			best = &candidate
		}
	}
	if best == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	plan, ok := s.plans[best.PlanID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return &billing.ResolvedSubscription{Subscription: *best, Plan: plan}, nil
}

// ListActivePlans returns active plans ordered by quota.
func (s *Store) ListActivePlans(ctx context.Context) ([]billing.BillingPlan, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.BillingPlan, 0, len(s.plans))
	for _, plan := range s.plans {
		if plan.IsActive {
			out = append(out, plan)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FreeOrdersPerPeriod == out[j].FreeOrdersPerPeriod {
			return out[i].ID < out[j].ID
		}
		return out[i].FreeOrdersPerPeriod < out[j].FreeOrdersPerPeriod
	})
	return out, nil
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (*billing.BillingPlan, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, billing.ErrPlanNotFound
	}
	return &plan, nil
}

// GetActiveCycle returns the active cycle with the latest period start.
func (s *Store) GetActiveCycle(ctx context.Context, merchantID string) (*billing.BillingCycle, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCycleLocked(merchantID)
}

func (s *Store) activeCycleLocked(merchantID string) (*billing.BillingCycle, error) {
	var best *billing.BillingCycle
	for _, cycle := range s.cycles {
		if cycle.MerchantID != merchantID || !cycle.IsActive() {
			continue
		}
		if best == nil || cycle.PeriodStart.After(best.PeriodStart) {
			candidate := cycle
			best = &candidate
		}
	}
	if best == nil {
		return nil, billing.ErrCycleNotFound
	}
	return best, nil
}

// GetCycle returns a cycle by id.
func (s *Store) GetCycle(ctx context.Context, cycleID string) (*billing.BillingCycle, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	cycle, ok := s.cycles[cycleID]
	if !ok {
		return nil, billing.ErrCycleNotFound
	}
	return &cycle, nil
}

// ApplyCounterUpdate increments the cycle counters under the store lock.
func (s *Store) ApplyCounterUpdate(ctx context.Context, cycleID string, delta billing.CounterDelta) (*billing.BillingCycle, error) {
	_ = ctx
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cycle, ok := s.cycles[cycleID]
	if !ok {
		return nil, billing.ErrCycleNotFound
	}
	cycle = cycle.Apply(delta, s.now())
	s.cycles[cycleID] = cycle
	return &cycle, nil
}

// merchantLock is dropped from the map once no goroutine holds or waits on it.
type merchantLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Store) lockMerchant(merchantID string) (unlock func()) {
	s.locksMu.Lock()
	lock, ok := s.locks[merchantID]
	if !ok {
		lock = &merchantLock{}
		s.locks[merchantID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, merchantID)
		}
		s.locksMu.Unlock()
	}
}

// WithinMerchantLock runs fn while holding the merchant's lock. Writes made
// through tx are buffered and applied only when fn succeeds.
func (s *Store) WithinMerchantLock(ctx context.Context, merchantID string, fn func(ctx context.Context, tx billing.CycleTx) error) error {
	if fn == nil {
		return errors.New("memory store: nil transaction func")
	}
	defer s.lockMerchant(merchantID)()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{store: s, deltas: make(map[string]billing.CounterDelta)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// ListExpiredActiveCycles returns active cycles whose period ended before today.
func (s *Store) ListExpiredActiveCycles(ctx context.Context, today time.Time, limit int) ([]billing.BillingCycle, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.BillingCycle
	for _, cycle := range s.cycles {
		if cycle.IsActive() && cycle.IsExpired(today) {
			out = append(out, cycle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnd.Before(out[j].PeriodEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CloseAndOpenNext closes the cycle and inserts its successor atomically.
func (s *Store) CloseAndOpenNext(ctx context.Context, closing billing.BillingCycle, next billing.BillingCycle, closedAt time.Time) error {
	defer s.lockMerchant(closing.MerchantID)()
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cycles[closing.ID]
	if !ok {
		return billing.ErrCycleNotFound
	}
	if !current.IsActive() {
		return errors.New("memory store: cycle already closed")
	}
	current.Status = billing.CycleStatusClosed
	current.ClosedAt = closedAt
	current.UpdatedAt = closedAt
	s.cycles[current.ID] = current
	s.cycles[next.ID] = next
	return nil
}

type memoryTx struct {
	store   *Store
	deltas  map[string]billing.CounterDelta
	records []billing.OrderClassification
}

func (tx *memoryTx) GetActiveCycle(ctx context.Context, merchantID string) (*billing.BillingCycle, error) {
	cycle, err := tx.store.GetActiveCycle(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	applied := tx.withPending(*cycle)
	return &applied, nil
}

func (tx *memoryTx) GetCycle(ctx context.Context, cycleID string) (*billing.BillingCycle, error) {
	cycle, err := tx.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	applied := tx.withPending(*cycle)
	return &applied, nil
}

func (tx *memoryTx) ApplyCounterUpdate(ctx context.Context, cycleID string, delta billing.CounterDelta) (*billing.BillingCycle, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	cycle, err := tx.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	pending := tx.deltas[cycleID]
	pending.FreeOrders += delta.FreeOrders
	pending.OverageOrders += delta.OverageOrders
	pending.OverageAmountCents += delta.OverageAmountCents
	tx.deltas[cycleID] = pending
	applied := cycle.Apply(pending, tx.store.now())
	return &applied, nil
}

func (tx *memoryTx) IsClassified(ctx context.Context, orderID string) (bool, error) {
	_ = ctx
	for _, record := range tx.records {
		if record.OrderID == orderID {
			return true, nil
		}
	}
	_, ok := tx.store.Classification(orderID)
	return ok, nil
}

func (tx *memoryTx) RecordClassification(ctx context.Context, record billing.OrderClassification) error {
	_ = ctx
	if record.OrderID == "" {
		return errors.New("memory store: empty order id")
	}
	tx.records = append(tx.records, record)
	return nil
}

func (tx *memoryTx) withPending(cycle billing.BillingCycle) billing.BillingCycle {
	if delta, ok := tx.deltas[cycle.ID]; ok {
		return cycle.Apply(delta, time.Time{})
	}
	return cycle
}

func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range tx.records {
		if _, exists := s.ledger[record.OrderID]; exists {
			return errors.New("memory store: order already classified")
		}
	}
	for cycleID := range tx.deltas {
		if _, ok := s.cycles[cycleID]; !ok {
			return billing.ErrCycleNotFound
		}
	}
	now := s.now()
	for cycleID, delta := range tx.deltas {
		s.cycles[cycleID] = s.cycles[cycleID].Apply(delta, now)
	}
	for _, record := range tx.records {
		s.ledger[record.OrderID] = record
	}
	return nil
}
