// Package application holds the billing use cases: order classification,
// cycle rollover and usage reporting.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/observability/metrics"
)

// ActionProcess is the only accepted trigger action.
const ActionProcess = "process"

// ReasonAlreadyClassified marks a SKIPPED result for an order that was counted before.
const ReasonAlreadyClassified = "already_classified"

// ReasonNotDeliveryTransition marks a SKIPPED result for a non-qualifying status change.
const ReasonNotDeliveryTransition = "not_delivery_transition"

// ProcessOrderCommand asks the engine to classify one delivered order.
type ProcessOrderCommand struct {
	OrderID    string
	MerchantID string
	Action     string
}

// UpdatedCounters carries the cycle counters that changed, at their new values.
type UpdatedCounters struct {
	FreeOrdersUsed     *int64 `json:"free_orders_used,omitempty"`
	OverageOrders      *int64 `json:"overage_orders,omitempty"`
	OverageAmountCents *int64 `json:"overage_amount_cents,omitempty"`
}

// ProcessResult is the outcome reported to the caller.
type ProcessResult struct {
	Success    bool                   `json:"success"`
	OrderID    string                 `json:"order_id"`
	MerchantID string                 `json:"merchant_id"`
	Type       billing.Classification `json:"type"`
	CycleID    string                 `json:"cycle_id,omitempty"`
	Updated    *UpdatedCounters       `json:"updated,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// AccountingService classifies delivered orders against the merchant's active cycle.
type AccountingService struct {
	resolver   billing.SubscriptionResolver
	transactor billing.CycleTransactor
	publisher  EventPublisher
	clock      Clock
	logger     zerolog.Logger
}

// NewAccountingService constructs the service. publisher may be nil.
func NewAccountingService(
	resolver billing.SubscriptionResolver,
	transactor billing.CycleTransactor,
	publisher EventPublisher,
	clock Clock,
	logger zerolog.Logger,
) (*AccountingService, error) {
	if resolver == nil {
		return nil, errors.New("accounting service: nil subscription resolver")
	}
	if transactor == nil {
		return nil, errors.New("accounting service: nil cycle transactor")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &AccountingService{
		resolver:   resolver,
		transactor: transactor,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// ProcessOrder classifies an order as FREE or OVERAGE and increments the
// matching cycle counters. An order that already has a classification is
// reported as SKIPPED and nothing is written.
func (s *AccountingService) ProcessOrder(ctx context.Context, cmd ProcessOrderCommand) (ProcessResult, error) {
	start := time.Now()
	result, err := s.processOrder(ctx, cmd)
	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
		metrics.IncProcessError(billing.ErrorCode(err))
		s.logger.Warn().Err(err).
			Str("order_id", cmd.OrderID).
			Str("merchant_id", cmd.MerchantID).
			Str("code", billing.ErrorCode(err)).
			Msg("order classification failed")
	} else {
		metrics.IncOrderClassified(string(result.Type))
	}
	metrics.ObserveProcess(outcome, time.Since(start))
	return result, err
}

func (s *AccountingService) processOrder(ctx context.Context, cmd ProcessOrderCommand) (ProcessResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	merchantID := strings.TrimSpace(cmd.MerchantID)
	if orderID == "" {
		return ProcessResult{}, fmt.Errorf("%w: order_id is required", billing.ErrBadRequest)
	}
	if merchantID == "" {
		return ProcessResult{}, fmt.Errorf("%w: merchant_id is required", billing.ErrBadRequest)
	}
	if action := strings.TrimSpace(cmd.Action); action != "" && action != ActionProcess {
		return ProcessResult{}, fmt.Errorf("%w: unsupported action %q", billing.ErrBadRequest, action)
	}

	resolved, err := s.resolver.ResolveActiveSubscription(ctx, merchantID)
	if err != nil {
		return ProcessResult{}, billing.StorageFault(err)
	}
	if resolved == nil {
		return ProcessResult{}, billing.ErrSubscriptionNotFound
	}

	result := ProcessResult{OrderID: orderID, MerchantID: merchantID}
	var record billing.OrderClassification
	classified := false

	err = s.transactor.WithinMerchantLock(ctx, merchantID, func(ctx context.Context, tx billing.CycleTx) error {
		done, err := tx.IsClassified(ctx, orderID)
		if err != nil {
			return err
		}
		if done {
			result.Type = billing.ClassificationSkipped
			result.Reason = ReasonAlreadyClassified
			return nil
		}

		cycle, err := tx.GetActiveCycle(ctx, merchantID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return billing.ErrCycleNotFound
		}

		decision := billing.Classify(resolved.Plan, *cycle)
		updated, err := tx.ApplyCounterUpdate(ctx, cycle.ID, decision.Delta)
		if err != nil {
			return billing.StorageFault(err)
		}
		if updated == nil {
			return fmt.Errorf("%w: cycle %s vanished", billing.ErrUpdateFailed, cycle.ID)
		}

		record = billing.OrderClassification{
			OrderID:      orderID,
			MerchantID:   merchantID,
			CycleID:      cycle.ID,
			Type:         decision.Type,
			FeeCents:     decision.FeeCents,
			ClassifiedAt: s.clock.Now(),
		}
		if err := tx.RecordClassification(ctx, record); err != nil {
			return fmt.Errorf("%w: record classification: %v", billing.ErrUpdateFailed, err)
		}

		result.Type = decision.Type
		result.CycleID = cycle.ID
		result.Updated = updatedCounters(decision.Type, *updated)
		classified = true
		return nil
	})
	if err != nil {
		return ProcessResult{}, billing.StorageFault(err)
	}
	result.Success = true

	if classified {
		s.logger.Info().
			Str("order_id", orderID).
			Str("merchant_id", merchantID).
			Str("cycle_id", record.CycleID).
			Str("type", string(record.Type)).
			Int64("fee_cents", record.FeeCents).
			Msg("order classified")
		s.publishClassified(ctx, record)
	}
	return result, nil
}

func (s *AccountingService) publishClassified(ctx context.Context, record billing.OrderClassification) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, OrderClassified{
		OrderID:    record.OrderID,
		MerchantID: record.MerchantID,
		CycleID:    record.CycleID,
		Type:       record.Type,
		FeeCents:   record.FeeCents,
		OccurredAt: record.ClassifiedAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", record.OrderID).Msg("publish order classified failed")
	}
}

func updatedCounters(kind billing.Classification, cycle billing.BillingCycle) *UpdatedCounters {
	switch kind {
	case billing.ClassificationFree:
		used := cycle.FreeOrdersUsed
		return &UpdatedCounters{FreeOrdersUsed: &used}
	case billing.ClassificationOverage:
		orders := cycle.OverageOrders
		amount := cycle.OverageAmountCents
		return &UpdatedCounters{OverageOrders: &orders, OverageAmountCents: &amount}
	default:
		return nil
	}
}
