package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
)

// PlanResolver resolves the plan tier of a caller identity.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, identity uint64) (plans.Tier, error)
}

// UsageAggregator sums recorded usage for quota enforcement.
type UsageAggregator interface {
	SumAmountSince(ctx context.Context, identity uint64, types []models.UsageType, since time.Time) (float64, error)
	CountSince(ctx context.Context, identity uint64, usageType models.UsageType, since time.Time) (int64, error)
}

// QuotaCheck is the outcome of a quota evaluation.
type QuotaCheck struct {
	Allowed      bool
	CurrentUsage float64
	Limit        float64
	ResetDate    time.Time
	// FailedOpen is set when usage could not be evaluated and the request was allowed.
	FailedOpen bool
}

// MonthStart returns the first instant of the calendar month containing t, in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonthStart returns the first instant of the month after t, in UTC.
func NextMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// QuotaChecker enforces monthly plan quotas from recorded usage.
type QuotaChecker struct {
	plans    plans.Table
	resolver PlanResolver
	usage    UsageAggregator
	nowFn    func() time.Time
}

// NewQuotaChecker constructs a QuotaChecker.
func NewQuotaChecker(table plans.Table, resolver PlanResolver, usage UsageAggregator, nowFn func() time.Time) *QuotaChecker {
	if table == nil {
		table = plans.DefaultTable()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &QuotaChecker{plans: table, resolver: resolver, usage: usage, nowFn: nowFn}
}

// CheckQuota reports whether additional units of quota type q fit in the identity's
// monthly limit. Any failure to evaluate allows the request.
func (c *QuotaChecker) CheckQuota(ctx context.Context, identity uint64, q plans.QuotaType, additional float64) QuotaCheck {
	nowFn := time.Now
	if c != nil {
		nowFn = c.nowFn
	}
	now := nowFn()
	reset := NextMonthStart(now)
	failOpen := func(err error) QuotaCheck {
		log.WithError(err).WithFields(log.Fields{"user_id": identity, "quota": q}).Warn("quota: check failed, allowing")
		return QuotaCheck{Allowed: true, Limit: plans.Unlimited, ResetDate: reset, FailedOpen: true}
	}
	if c == nil || c.resolver == nil || c.usage == nil {
		return failOpen(errors.New("quota checker not configured"))
	}

	tier, errResolve := c.resolver.ResolvePlan(ctx, identity)
	if errResolve != nil {
		return failOpen(fmt.Errorf("resolve plan: %w", errResolve))
	}
	limit := c.plans.Limit(tier, q)
	if limit == plans.Unlimited {
		return QuotaCheck{Allowed: true, Limit: plans.Unlimited, ResetDate: reset}
	}

	since := MonthStart(now)
	var current float64
	switch q {
	case plans.QuotaStorage:
		sum, errSum := c.usage.SumAmountSince(ctx, identity, []models.UsageType{models.UsageTypeUpload, models.UsageTypeStorage}, since)
		if errSum != nil {
			return failOpen(errSum)
		}
		current = sum
	case plans.QuotaBandwidth:
		sum, errSum := c.usage.SumAmountSince(ctx, identity, []models.UsageType{models.UsageTypeBandwidth}, since)
		if errSum != nil {
			return failOpen(errSum)
		}
		current = sum
	case plans.QuotaUploads:
		count, errCount := c.usage.CountSince(ctx, identity, models.UsageTypeUpload, since)
		if errCount != nil {
			return failOpen(errCount)
		}
		current = float64(count)
	default:
		return failOpen(fmt.Errorf("unknown quota type %q", q))
	}

	return QuotaCheck{
		Allowed:      current+additional <= limit,
		CurrentUsage: current,
		Limit:        limit,
		ResetDate:    reset,
	}
}
