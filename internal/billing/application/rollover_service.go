package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/observability/metrics"
)

const defaultRolloverBatch = 500

// RolloverReport summarises one rollover run.
type RolloverReport struct {
	Today   time.Time       `json:"today"`
	Closed  []RolledCycle   `json:"closed"`
	Skipped []string        `json:"skipped_cycle_ids"`
	Failed  []RolloverFault `json:"failed"`
}

// RolledCycle pairs a closed cycle with its successor.
type RolledCycle struct {
	MerchantID  string `json:"merchant_id"`
	CycleID     string `json:"cycle_id"`
	NextCycleID string `json:"next_cycle_id"`
}

// RolloverFault records a cycle that could not be rolled.
type RolloverFault struct {
	CycleID string `json:"cycle_id"`
	Error   string `json:"error"`
}

// RolloverOption configures the rollover service.
type RolloverOption func(*RolloverService)

// WithCycleLength overrides the length in days of newly opened cycles.
func WithCycleLength(days int) RolloverOption {
	return func(s *RolloverService) {
		if days > 0 {
			s.lengthDays = days
		}
	}
}

// WithRolloverBatch limits how many expired cycles one run handles.
func WithRolloverBatch(n int) RolloverOption {
	return func(s *RolloverService) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithCycleIDs overrides cycle id generation.
func WithCycleIDs(fn func() string) RolloverOption {
	return func(s *RolloverService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// RolloverService closes expired active cycles and opens the next rolling window.
type RolloverService struct {
	store      billing.RolloverStore
	resolver   billing.SubscriptionResolver
	publisher  EventPublisher
	clock      Clock
	logger     zerolog.Logger
	lengthDays int
	batch      int
	newID      func() string
}

// NewRolloverService constructs the service. publisher may be nil.
func NewRolloverService(
	store billing.RolloverStore,
	resolver billing.SubscriptionResolver,
	publisher EventPublisher,
	clock Clock,
	logger zerolog.Logger,
	opts ...RolloverOption,
) (*RolloverService, error) {
	if store == nil {
		return nil, errors.New("rollover service: nil rollover store")
	}
	if resolver == nil {
		return nil, errors.New("rollover service: nil subscription resolver")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	s := &RolloverService{
		store:      store,
		resolver:   resolver,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		lengthDays: billing.DefaultCycleLengthDays,
		batch:      defaultRolloverBatch,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run rolls every cycle whose period ended before today. Merchants without an
// active subscription keep their expired cycle untouched.
func (s *RolloverService) Run(ctx context.Context) (RolloverReport, error) {
	now := s.clock.Now().UTC()
	report := RolloverReport{Today: now}

	expired, err := s.store.ListExpiredActiveCycles(ctx, now, s.batch)
	if err != nil {
		return report, err
	}

	for _, cycle := range expired {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !cycle.IsExpired(now) {
			continue
		}

		if _, err := s.resolver.ResolveActiveSubscription(ctx, cycle.MerchantID); err != nil {
			if errors.Is(err, billing.ErrSubscriptionNotFound) {
				s.logger.Info().Str("merchant_id", cycle.MerchantID).Str("cycle_id", cycle.ID).
					Msg("no active subscription, cycle left open")
				report.Skipped = append(report.Skipped, cycle.ID)
				metrics.IncRollover(metrics.RolloverSkipped)
				continue
			}
			s.recordFault(&report, cycle, err)
			continue
		}

		next := billing.NextCycle(cycle, s.newID(), s.lengthDays, now)
		if err := s.store.CloseAndOpenNext(ctx, cycle, next, now); err != nil {
			s.recordFault(&report, cycle, err)
			continue
		}

		report.Closed = append(report.Closed, RolledCycle{
			MerchantID:  cycle.MerchantID,
			CycleID:     cycle.ID,
			NextCycleID: next.ID,
		})
		metrics.IncRollover(metrics.RolloverClosed)
		s.logger.Info().
			Str("merchant_id", cycle.MerchantID).
			Str("cycle_id", cycle.ID).
			Str("next_cycle_id", next.ID).
			Time("next_period_end", next.PeriodEnd).
			Msg("billing cycle rolled over")

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, CycleClosed{
				CycleID:     cycle.ID,
				MerchantID:  cycle.MerchantID,
				NextCycleID: next.ID,
				PeriodStart: cycle.PeriodStart,
				PeriodEnd:   cycle.PeriodEnd,
				OccurredAt:  now,
			}); err != nil {
				s.logger.Error().Err(err).Str("cycle_id", cycle.ID).Msg("publish cycle closed failed")
			}
		}
	}
	return report, nil
}

func (s *RolloverService) recordFault(report *RolloverReport, cycle billing.BillingCycle, err error) {
	s.logger.Error().Err(err).Str("merchant_id", cycle.MerchantID).Str("cycle_id", cycle.ID).Msg("rollover failed")
	report.Failed = append(report.Failed, RolloverFault{CycleID: cycle.ID, Error: err.Error()})
	metrics.IncRollover(metrics.RolloverFailed)
}
