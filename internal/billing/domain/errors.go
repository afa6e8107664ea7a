package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest is returned when a trigger payload is malformed.
	ErrBadRequest = errors.New("billing: bad request")
	// ErrSubscriptionNotFound is returned when a merchant has no active subscription.
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	// ErrCycleNotFound is returned when a merchant has no active billing cycle.
	ErrCycleNotFound = errors.New("billing: cycle not found")
	// ErrUpdateFailed is returned when the counter update could not be persisted.
	ErrUpdateFailed = errors.New("billing: update failed")
	// ErrPlanNotFound is returned when a plan id is unknown.
	ErrPlanNotFound = errors.New("billing: plan not found")
	// ErrInvalidPlan is returned when plan reference data is out of range.
	ErrInvalidPlan = errors.New("billing: invalid plan")
	// ErrInvalidDelta is returned for empty or negative counter deltas.
	ErrInvalidDelta = errors.New("billing: invalid counter delta")
	// ErrEmptyMerchantID is returned when a merchant id is empty.
	ErrEmptyMerchantID = errors.New("billing: empty merchant id")
)

// Wire error codes.
const (
	CodeBadRequest           = "bad_request"
	CodeSubscriptionNotFound = "subscription_not_found"
	CodeCycleNotFound        = "cycle_not_found"
	CodeUpdateFailed         = "update_failed"
	CodeInternal             = "internal"
)

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrEmptyMerchantID):
		return CodeBadRequest
	case errors.Is(err, ErrSubscriptionNotFound):
		return CodeSubscriptionNotFound
	case errors.Is(err, ErrCycleNotFound):
		return CodeCycleNotFound
	case errors.Is(err, ErrUpdateFailed):
		return CodeUpdateFailed
	default:
		return CodeInternal
	}
}

// IsIntegrityFault reports errors that mean billing state is inconsistent with
// the order source and must be surfaced to operators.
func IsIntegrityFault(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrCycleNotFound)
}

// IsRetryable reports errors for which re-running the whole classification
// with fresh reads may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpdateFailed)
}

// StorageFault marks a raw storage error as ErrUpdateFailed. Errors that
// already carry a billing sentinel pass through unchanged.
func StorageFault(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUpdateFailed), IsIntegrityFault(err),
		errors.Is(err, ErrBadRequest), errors.Is(err, ErrEmptyMerchantID):
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
}
