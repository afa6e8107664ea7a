// Package billinghttp exposes the billing engine and its queries over HTTP.
package billinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"pharmacy-billing/internal/audit"
	"pharmacy-billing/internal/auth"
	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/billing/interfaces"
	"pharmacy-billing/internal/eventing"
	"pharmacy-billing/internal/logging"
	"pharmacy-billing/internal/observability/metrics"
)

const maxBodyBytes = 1 << 20

// IdempotencyKeyHeader lets order services retry a status change without
// producing a second event.
const IdempotencyKeyHeader = "Idempotency-Key"

// Processor runs the engine synchronously.
type Processor interface {
	ProcessOrder(ctx context.Context, cmd application.ProcessOrderCommand) (application.ProcessResult, error)
}

// UsageQueries serves read-only billing views.
type UsageQueries interface {
	GetUsage(ctx context.Context, merchantID string) (application.UsageView, error)
	ListPlans(ctx context.Context) ([]billing.BillingPlan, error)
	GetStatement(ctx context.Context, cycleID string) (application.Statement, error)
}

// RolloverRunner runs one rollover pass.
type RolloverRunner interface {
	Run(ctx context.Context) (application.RolloverReport, error)
}

// Deps groups handler collaborators.
type Deps struct {
	Processor Processor
	Events    application.EventPublisher
	Usage     UsageQueries
	Rollover  RolloverRunner
	Audit     audit.Logger
	Currency  string
	Logger    zerolog.Logger
}

// Handler serves the billing API.
type Handler struct {
	processor Processor
	events    application.EventPublisher
	usage     UsageQueries
	rollover  RolloverRunner
	audit     audit.Logger
	currency  string
	logger    zerolog.Logger
}

// NewHandler constructs the handler. Audit may be nil.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Processor == nil {
		return nil, errors.New("billing http: nil processor")
	}
	if deps.Events == nil {
		return nil, errors.New("billing http: nil event publisher")
	}
	if deps.Usage == nil {
		return nil, errors.New("billing http: nil usage queries")
	}
	if deps.Rollover == nil {
		return nil, errors.New("billing http: nil rollover runner")
	}
	currency := deps.Currency
	if currency == "" {
		currency = "BRL"
	}
	return &Handler{
		processor: deps.Processor,
		events:    deps.Events,
		usage:     deps.Usage,
		rollover:  deps.Rollover,
		audit:     deps.Audit,
		currency:  currency,
		logger:    deps.Logger,
	}, nil
}

// Register mounts the billing routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/billing/orders/process", h.processOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orders/status-changes", h.statusChange).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/billing/merchants/{merchant_id}/usage", h.getUsage).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/billing/plans", h.listPlans).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/billing/cycles/{cycle_id}/statement.{format:pdf|xlsx}", h.exportStatement).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/billing/rollover", h.runRollover).Methods(http.MethodPost)
}

type processRequest struct {
	OrderID    string `json:"order_id"`
	MerchantID string `json:"merchant_id"`
	PharmacyID string `json:"pharmacy_id"`
	Action     string `json:"action"`
}

func (h *Handler) processOrder(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", billing.ErrBadRequest, err))
		return
	}
	merchantID := firstNonEmpty(req.MerchantID, req.PharmacyID)
	result, err := h.processor.ProcessOrder(r.Context(), application.ProcessOrderCommand{
		OrderID:    req.OrderID,
		MerchantID: merchantID,
		Action:     req.Action,
	})
	h.record(r, audit.ActionProcessOrder, "order", req.OrderID, merchantID, map[string]any{
		"type":  result.Type,
		"error": billing.ErrorCode(err),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusChangeRequest struct {
	OrderID    string    `json:"order_id"`
	MerchantID string    `json:"merchant_id"`
	PharmacyID string    `json:"pharmacy_id"`
	NewStatus  string    `json:"new_status"`
	OldStatus  string    `json:"old_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

type statusChangeResponse struct {
	Accepted           bool   `json:"accepted"`
	OrderID            string `json:"order_id"`
	DeliveryTransition bool   `json:"delivery_transition"`
}

func (h *Handler) statusChange(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", billing.ErrBadRequest, err))
		return
	}
	merchantID := strings.TrimSpace(firstNonEmpty(req.MerchantID, req.PharmacyID))
	if strings.TrimSpace(req.OrderID) == "" || merchantID == "" || strings.TrimSpace(req.NewStatus) == "" {
		writeError(w, fmt.Errorf("%w: order_id, merchant_id and new_status are required", billing.ErrBadRequest))
		return
	}
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	event := application.OrderStatusChanged{
		OrderID:    strings.TrimSpace(req.OrderID),
		MerchantID: merchantID,
		NewStatus:  req.NewStatus,
		OldStatus:  req.OldStatus,
		OccurredAt: occurredAt,
	}
	ctx := r.Context()
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		ctx = eventing.WithEventID(ctx, "status-change:"+key)
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Error().Err(err).Str("order_id", event.OrderID).Msg("publish order status change failed")
		writeError(w, fmt.Errorf("%w: %v", billing.ErrUpdateFailed, err))
		return
	}
	h.record(r, audit.ActionStatusChange, "order", event.OrderID, merchantID, map[string]any{
		"new_status": event.NewStatus,
		"old_status": event.OldStatus,
	})
	writeJSON(w, http.StatusAccepted, statusChangeResponse{
		Accepted:           true,
		OrderID:            event.OrderID,
		DeliveryTransition: billing.IsDeliveryTransition(event.NewStatus, event.OldStatus),
	})
}

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	merchantID := mux.Vars(r)["merchant_id"]
	if !auth.CanReadMerchant(r.Context(), merchantID) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
		return
	}
	view, err := h.usage.GetUsage(r.Context(), merchantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.usage.ListPlans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *Handler) exportStatement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cycleID, format := vars["cycle_id"], vars["format"]
	start := time.Now()

	stmt, err := h.usage.GetStatement(r.Context(), cycleID)
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
		writeError(w, err)
		return
	}
	if !auth.CanReadMerchant(r.Context(), stmt.Cycle.MerchantID) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
		return
	}

	var data []byte
	var contentType string
	switch format {
	case "xlsx":
		data, err = interfaces.BuildStatementXLSX(stmt, h.currency)
		contentType = interfaces.ContentTypeXLSX
	default:
		data, err = interfaces.BuildStatementPDF(stmt, h.currency)
		contentType = interfaces.ContentTypePDF
	}
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
		h.logger.Error().Err(err).Str("cycle_id", cycleID).Str("format", format).Msg("statement export failed")
		writeError(w, err)
		return
	}
	metrics.ObserveStatementExport(format, metrics.ResultSuccess, time.Since(start))
	h.record(r, audit.ActionStatementExport, "cycle", cycleID, stmt.Cycle.MerchantID, map[string]any{"format": format})

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("statement-%s.%s", cycleID, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) runRollover(w http.ResponseWriter, r *http.Request) {
	report, err := h.rollover.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	h.record(r, audit.ActionRollover, "rollover", report.Today.Format("2006-01-02"), "", map[string]any{
		"closed":  len(report.Closed),
		"skipped": len(report.Skipped),
		"failed":  len(report.Failed),
	})
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) record(r *http.Request, action, resourceType, resourceID, merchantID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	raw, _ := json.Marshal(meta)
	ctx := r.Context()
	entry := audit.Entry{
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		MerchantID:   merchantID,
		Metadata:     raw,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if err := h.audit.Log(ctx, entry); err != nil {
		log := logging.FromContext(ctx, h.logger)
		log.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
