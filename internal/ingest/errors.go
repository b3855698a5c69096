package ingest

import (
	"fmt"
	"net/http"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
)

// Kind discriminates pipeline rejections.
type Kind string

// Kind constants.
const (
	KindRateLimited       Kind = "RATE_LIMITED"
	KindValidationFailed  Kind = "VALIDATION_FAILED"
	KindQuotaExceeded     Kind = "QUOTA_EXCEEDED"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindProviderExhausted Kind = "PROVIDER_EXHAUSTED"
	KindInternal          Kind = "INTERNAL"
)

// Error is a structured pipeline rejection carrying what a caller needs to render it.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfterSeconds is set for KindRateLimited.
	RetryAfterSeconds int
	RateLimit         *ratelimit.Result

	// Warnings collected before a validation failure.
	Warnings []string

	// QuotaType and Quota are set for KindQuotaExceeded.
	QuotaType plans.QuotaType
	Quota     *billing.QuotaCheck

	// Estimate is set for KindInsufficientFunds.
	Estimate *billing.CostEstimate

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("ingest: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to the conventional HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindQuotaExceeded, KindInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindProviderExhausted
}
