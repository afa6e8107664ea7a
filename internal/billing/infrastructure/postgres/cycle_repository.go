package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	billing "pharmacy-billing/internal/billing/domain"
)

const cycleColumns = `id, merchant_id, period_start, period_end, status,
	free_orders_used, overage_orders, overage_amount_cents, closed_at, created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CycleRepository persists billing cycles and the classification ledger.
type CycleRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCycleRepository constructs a repository.
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetActiveCycle returns the merchant's most recent active cycle.
func (r *CycleRepository) GetActiveCycle(ctx context.Context, merchantID string) (*billing.BillingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	return activeCycle(ctx, r.db, merchantID, false)
}

// GetCycle fetches a cycle by id.
func (r *CycleRepository) GetCycle(ctx context.Context, cycleID string) (*billing.BillingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	return cycleByID(ctx, r.db, cycleID)
}

// ApplyCounterUpdate increments counters in place and returns the new row.
func (r *CycleRepository) ApplyCounterUpdate(ctx context.Context, cycleID string, delta billing.CounterDelta) (*billing.BillingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	return incrementCounters(ctx, r.db, cycleID, delta, r.now())
}

// WithinMerchantLock opens a transaction, takes the merchant's advisory lock
// and runs fn. The transaction commits only if fn returns nil.
func (r *CycleRepository) WithinMerchantLock(ctx context.Context, merchantID string, fn func(ctx context.Context, tx billing.CycleTx) error) error {
	if r == nil || r.db == nil {
		return errors.New("cycle repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.StorageFault(err)
	}
	if err := lockMerchant(ctx, tx, merchantID); err != nil {
		_ = tx.Rollback()
		return billing.StorageFault(err)
	}
	if err := fn(ctx, &cycleTx{tx: tx, now: r.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", billing.ErrUpdateFailed, err)
	}
	return nil
}

// ListExpiredActiveCycles lists active cycles whose period ended before today.
func (r *CycleRepository) ListExpiredActiveCycles(ctx context.Context, today time.Time, limit int) ([]billing.BillingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	if limit <= 0 {
		limit = 500
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.db.QueryContext(ctx, `
SELECT `+cycleColumns+`
FROM billing_cycles
WHERE status = 'active' AND period_end < $1
ORDER BY period_end ASC
LIMIT $2`, day, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []billing.BillingCycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cycles, nil
}

// CloseAndOpenNext closes a cycle and inserts its successor in one transaction,
// serialised with classification through the merchant lock.
func (r *CycleRepository) CloseAndOpenNext(ctx context.Context, closing billing.BillingCycle, next billing.BillingCycle, closedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("cycle repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := lockMerchant(ctx, tx, closing.MerchantID); err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE billing_cycles
SET status = 'closed', closed_at = $2, updated_at = $2
WHERE id = $1 AND status = 'active'`, closing.ID, closedAt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		_ = tx.Rollback()
		if err != nil {
			return err
		}
		return fmt.Errorf("cycle repo: cycle %s is not active", closing.ID)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO billing_cycles (
	id, merchant_id, period_start, period_end, status,
	free_orders_used, overage_orders, overage_amount_cents, created_at, updated_at
) VALUES ($1, $2, $3, $4, 'active', 0, 0, 0, $5, $5)`,
		next.ID, next.MerchantID, next.PeriodStart, next.PeriodEnd, closedAt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type cycleTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *cycleTx) GetActiveCycle(ctx context.Context, merchantID string) (*billing.BillingCycle, error) {
	cycle, err := activeCycle(ctx, t.tx, merchantID, true)
	return cycle, billing.StorageFault(err)
}

func (t *cycleTx) GetCycle(ctx context.Context, cycleID string) (*billing.BillingCycle, error) {
	cycle, err := cycleByID(ctx, t.tx, cycleID)
	return cycle, billing.StorageFault(err)
}

func (t *cycleTx) ApplyCounterUpdate(ctx context.Context, cycleID string, delta billing.CounterDelta) (*billing.BillingCycle, error) {
	return incrementCounters(ctx, t.tx, cycleID, delta, t.now())
}

func (t *cycleTx) IsClassified(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM order_classifications WHERE order_id = $1)`, orderID).Scan(&exists)
	return exists, billing.StorageFault(err)
}

func (t *cycleTx) RecordClassification(ctx context.Context, record billing.OrderClassification) error {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO order_classifications (order_id, merchant_id, cycle_id, classification, fee_cents, classified_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (order_id) DO NOTHING`,
		record.OrderID, record.MerchantID, record.CycleID, string(record.Type), record.FeeCents, record.ClassifiedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("cycle repo: order %s already classified", record.OrderID)
	}
	return nil
}

func lockMerchant(ctx context.Context, tx *sql.Tx, merchantID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, merchantID)
	return err
}

func activeCycle(ctx context.Context, q queryer, merchantID string, forUpdate bool) (*billing.BillingCycle, error) {
	query := `
SELECT ` + cycleColumns + `
FROM billing_cycles
WHERE merchant_id = $1 AND status = 'active'
ORDER BY period_start DESC
LIMIT 1`
	if forUpdate {
		query += `
FOR UPDATE`
	}
	cycle, err := scanCycle(q.QueryRowContext(ctx, query, merchantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrCycleNotFound
	}
	return cycle, err
}

func cycleByID(ctx context.Context, q queryer, cycleID string) (*billing.BillingCycle, error) {
	cycle, err := scanCycle(q.QueryRowContext(ctx, `
SELECT `+cycleColumns+`
FROM billing_cycles
WHERE id = $1`, cycleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrCycleNotFound
	}
	return cycle, err
}

func incrementCounters(ctx context.Context, q queryer, cycleID string, delta billing.CounterDelta, at time.Time) (*billing.BillingCycle, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	cycle, err := scanCycle(q.QueryRowContext(ctx, `
UPDATE billing_cycles
SET free_orders_used = free_orders_used + $2,
	overage_orders = overage_orders + $3,
	overage_amount_cents = overage_amount_cents + $4,
	updated_at = $5
WHERE id = $1
RETURNING `+cycleColumns,
		cycleID, delta.FreeOrders, delta.OverageOrders, delta.OverageAmountCents, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cycle %s not found", billing.ErrUpdateFailed, cycleID)
	}
	return cycle, err
}

func scanCycle(row rowScanner) (*billing.BillingCycle, error) {
	var cycle billing.BillingCycle
	var status string
	var closedAt sql.NullTime
	if err := row.Scan(
		&cycle.ID,
		&cycle.MerchantID,
		&cycle.PeriodStart,
		&cycle.PeriodEnd,
		&status,
		&cycle.FreeOrdersUsed,
		&cycle.OverageOrders,
		&cycle.OverageAmountCents,
		&closedAt,
		&cycle.CreatedAt,
		&cycle.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cycle.Status = billing.CycleStatus(status)
	if closedAt.Valid {
		cycle.ClosedAt = closedAt.Time
	}
	return &cycle, nil
}
