// Package ingest runs the upload pipeline: rate limit, validation, quota, funds
// reservation, provider upload and settlement.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/provider"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
	internalsettings "github.com/Michaelasereo/mylinnk-sub001/internal/settings"
	"github.com/Michaelasereo/mylinnk-sub001/internal/validation"
)

// Limiter checks request throughput.
type Limiter interface {
	Check(ctx context.Context, identity, class string) ratelimit.Result
}

// Validator inspects uploaded files.
type Validator interface {
	Validate(ctx context.Context, file media.File, identity uint64, class media.ContentClass) validation.Result
}

// Estimator prices uploads.
type Estimator interface {
	Estimate(size int64, class media.ContentClass) (billing.CostEstimate, error)
}

// QuotaChecker enforces monthly plan quotas.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, identity uint64, q plans.QuotaType, additional float64) billing.QuotaCheck
}

// Ledger reserves and refunds prepaid funds.
type Ledger interface {
	Reserve(ctx context.Context, identity uint64, amount money.Money, reference string) (bool, error)
	Refund(ctx context.Context, identity uint64, amount money.Money, reference string) error
}

// Gateway uploads to providers with failover.
type Gateway interface {
	Upload(ctx context.Context, file media.File, class media.ContentClass, identity uint64) (provider.Result, error)
}

// Deps are the pipeline stages.
type Deps struct {
	Limiter   Limiter
	Validator Validator
	Estimator Estimator
	Quota     QuotaChecker
	Ledger    Ledger
	Gateway   Gateway
}

// Options tune the pipeline.
type Options struct {
	// LimiterClass is the rate limit class applied to uploads.
	LimiterClass string
	// Timeout bounds the whole pipeline when positive.
	Timeout time.Duration
	// SettleSurplus refunds the difference between the reserved estimate and the
	// provider's actual cost.
	SettleSurplus bool
}

// Request is one upload.
type Request struct {
	Identity uint64
	Class    media.ContentClass
	File     media.File
}

// Response is returned for an accepted upload.
type Response struct {
	URL          string
	AssetID      string
	PlaybackID   string
	ThumbnailURL string
	Provider     string
	Warnings     []string
	Estimate     billing.CostEstimate
	Charged      money.Money
	RateLimit    ratelimit.Result
}

// Service runs the upload pipeline.
type Service struct {
	deps Deps
	opts Options
}

// NewService constructs a Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Limiter == nil:
		return nil, errors.New("ingest: nil limiter")
	case deps.Validator == nil:
		return nil, errors.New("ingest: nil validator")
	case deps.Estimator == nil:
		return nil, errors.New("ingest: nil estimator")
	case deps.Quota == nil:
		return nil, errors.New("ingest: nil quota checker")
	case deps.Ledger == nil:
		return nil, errors.New("ingest: nil ledger")
	case deps.Gateway == nil:
		return nil, errors.New("ingest: nil gateway")
	}
	if opts.LimiterClass == "" {
		opts.LimiterClass = internalsettings.LimiterClassUpload
	}
	return &Service{deps: deps, opts: opts}, nil
}

// reservation tracks funds held for one upload.
type reservation struct {
	identity  uint64
	amount    money.Money
	reference string
	active    bool
}

// Upload runs req through every stage. Rejections are returned as *Error.
func (s *Service) Upload(ctx context.Context, req Request) (resp *Response, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	fields := log.Fields{"user_id": req.Identity, "class": req.Class, "size": req.File.Size}

	held := &reservation{identity: req.Identity}
	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithFields(fields).WithField("panic", recovered).Error("ingest: pipeline panicked")
			s.release(ctx, held, fields)
			resp = nil
			err = &Error{Kind: KindInternal, Message: "internal error", Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()

	// Rate limit.
	rl := s.deps.Limiter.Check(ctx, strconv.FormatUint(req.Identity, 10), s.opts.LimiterClass)
	if !rl.Allowed {
		retry := rl.RetryAfterSeconds(time.Now())
		return nil, &Error{
			Kind:              KindRateLimited,
			Message:           fmt.Sprintf("rate limit exceeded, retry in %d seconds", retry),
			RetryAfterSeconds: retry,
			RateLimit:         &rl,
		}
	}

	class, errClass := media.ParseContentClass(string(req.Class))
	if errClass != nil {
		return nil, &Error{Kind: KindValidationFailed, Message: errClass.Error(), Err: errClass}
	}
	req.Class = class

	// Validation.
	verdict := s.deps.Validator.Validate(ctx, req.File, req.Identity, req.Class)
	if !verdict.Valid {
		return nil, &Error{Kind: KindValidationFailed, Message: verdict.Error, Warnings: verdict.Warnings}
	}

	// Estimate and quotas.
	estimate, errEstimate := s.deps.Estimator.Estimate(req.File.Size, req.Class)
	if errEstimate != nil {
		log.WithError(errEstimate).WithFields(fields).Error("ingest: estimate failed")
		return nil, &Error{Kind: KindInternal, Message: "unable to estimate cost", Err: errEstimate}
	}
	quotas := []struct {
		q          plans.QuotaType
		additional float64
	}{
		{plans.QuotaStorage, req.File.SizeGB()},
		{plans.QuotaUploads, 1},
	}
	for _, quota := range quotas {
		check := s.deps.Quota.CheckQuota(ctx, req.Identity, quota.q, quota.additional)
		if !check.Allowed {
			return nil, &Error{
				Kind:      KindQuotaExceeded,
				Message:   fmt.Sprintf("%s quota exceeded: %.4g of %.4g used, resets %s", quota.q, check.CurrentUsage, check.Limit, check.ResetDate.Format("2006-01-02")),
				QuotaType: quota.q,
				Quota:     &check,
			}
		}
	}

	// Funds.
	held.amount = estimate.Total
	held.reference = "upload:" + uuid.NewString()
	ok, errReserve := s.deps.Ledger.Reserve(ctx, req.Identity, estimate.Total, held.reference)
	if errReserve != nil {
		if errors.Is(errReserve, billing.ErrAccountNotFound) {
			return nil, &Error{Kind: KindInsufficientFunds, Message: "no balance account for caller", Estimate: &estimate, Err: errReserve}
		}
		log.WithError(errReserve).WithFields(fields).Error("ingest: reserve failed")
		return nil, &Error{Kind: KindInternal, Message: "unable to reserve funds", Err: errReserve}
	}
	if !ok {
		return nil, &Error{
			Kind:     KindInsufficientFunds,
			Message:  fmt.Sprintf("insufficient balance for estimated cost %s", estimate.Total),
			Estimate: &estimate,
		}
	}
	held.active = true

	// Upload.
	result, errUpload := s.deps.Gateway.Upload(ctx, req.File, req.Class, req.Identity)
	if errUpload != nil {
		s.release(ctx, held, fields)
		var exhausted *provider.ExhaustedError
		if errors.As(errUpload, &exhausted) {
			return nil, &Error{Kind: KindProviderExhausted, Message: exhausted.Error(), Err: errUpload}
		}
		log.WithError(errUpload).WithFields(fields).Error("ingest: gateway failed")
		return nil, &Error{Kind: KindInternal, Message: "upload failed", Err: errUpload}
	}

	charged := s.settle(ctx, held, result.Cost, fields)
	return &Response{
		URL:          result.URL,
		AssetID:      result.AssetID,
		PlaybackID:   result.PlaybackID,
		ThumbnailURL: result.ThumbnailURL,
		Provider:     result.Provider,
		Warnings:     verdict.Warnings,
		Estimate:     estimate,
		Charged:      charged,
		RateLimit:    rl,
	}, nil
}

// release refunds an active reservation. Refund failures are logged.
func (s *Service) release(ctx context.Context, held *reservation, fields log.Fields) {
	if held == nil || !held.active {
		return
	}
	held.active = false
	if errRefund := s.deps.Ledger.Refund(context.WithoutCancel(ctx), held.identity, held.amount, held.reference); errRefund != nil {
		log.WithError(errRefund).WithFields(fields).WithField("reference", held.reference).Error("ingest: refund failed")
	}
}

// settle returns what the upload finally cost, refunding any surplus over the actual cost.
func (s *Service) settle(ctx context.Context, held *reservation, actual money.Money, fields log.Fields) money.Money {
	held.active = false
	if !s.opts.SettleSurplus || actual.Currency() != held.amount.Currency() {
		return held.amount
	}
	surplus, errSurplus := held.amount.Subtract(actual)
	if errSurplus != nil || surplus.IsZero() {
		// Actual cost at or above the estimate keeps the reservation as the charge.
		return held.amount
	}
	if errRefund := s.deps.Ledger.Refund(context.WithoutCancel(ctx), held.identity, surplus, held.reference+":surplus"); errRefund != nil {
		log.WithError(errRefund).WithFields(fields).Warn("ingest: surplus refund failed")
		return held.amount
	}
	return actual
}

// Estimate prices an upload without running the pipeline.
func (s *Service) Estimate(size int64, class media.ContentClass) (billing.CostEstimate, error) {
	return s.deps.Estimator.Estimate(size, class)
}

// Quota evaluates a quota without running the pipeline.
func (s *Service) Quota(ctx context.Context, identity uint64, q plans.QuotaType, additional float64) billing.QuotaCheck {
	return s.deps.Quota.CheckQuota(ctx, identity, q, additional)
}
