// Package notify delivers operator alerts.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// AlertMessage describes a billing integrity fault.
type AlertMessage struct {
	Kind       string            `json:"kind"`
	MerchantID string            `json:"merchant_id"`
	OrderID    string            `json:"order_id,omitempty"`
	EventID    string            `json:"event_id,omitempty"`
	ErrorCode  string            `json:"error_code"`
	Detail     string            `json:"detail,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}

// LogNotifier writes alerts to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at error level.
func (n *LogNotifier) Notify(_ context.Context, msg AlertMessage) error {
	n.logger.Error().
		Bool("alert", true).
		Str("kind", msg.Kind).
		Str("merchant_id", msg.MerchantID).
		Str("order_id", msg.OrderID).
		Str("event_id", msg.EventID).
		Str("error_code", msg.ErrorCode).
		Str("detail", msg.Detail).
		Msg("billing integrity alert")
	return nil
}
