package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	billing "pharmacy-billing/internal/billing/domain"
)

// OrderProcessor is the engine entry point used by the trigger.
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, cmd ProcessOrderCommand) (ProcessResult, error)
}

// OrderTrigger filters order status changes down to delivery transitions and
// hands qualifying orders to the engine.
type OrderTrigger struct {
	engine OrderProcessor
}

// NewOrderTrigger constructs the trigger.
func NewOrderTrigger(engine OrderProcessor) (*OrderTrigger, error) {
	if engine == nil {
		return nil, errors.New("order trigger: nil engine")
	}
	return &OrderTrigger{engine: engine}, nil
}

// HandleOrderStatusChanged runs the engine when the change is a delivery
// transition and reports SKIPPED otherwise.
func (t *OrderTrigger) HandleOrderStatusChanged(ctx context.Context, event OrderStatusChanged) (ProcessResult, error) {
	if strings.TrimSpace(event.OrderID) == "" {
		return ProcessResult{}, fmt.Errorf("%w: order_id is required", billing.ErrBadRequest)
	}
	if strings.TrimSpace(event.MerchantID) == "" {
		return ProcessResult{}, fmt.Errorf("%w: merchant_id is required", billing.ErrBadRequest)
	}
	if !billing.IsDeliveryTransition(event.NewStatus, event.OldStatus) {
		return ProcessResult{
			Success:    true,
			OrderID:    event.OrderID,
			MerchantID: event.MerchantID,
			Type:       billing.ClassificationSkipped,
			Reason:     ReasonNotDeliveryTransition,
		}, nil
	}
	return t.engine.ProcessOrder(ctx, ProcessOrderCommand{
		OrderID:    event.OrderID,
		MerchantID: event.MerchantID,
		Action:     ActionProcess,
	})
}
