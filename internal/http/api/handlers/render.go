package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
)

// ContextKeyIdentity is the gin context key holding the resolved caller identity.
const ContextKeyIdentity = "identity"

// IdentityFrom returns the caller identity set by the identity middleware.
func IdentityFrom(c *gin.Context) (uint64, bool) {
	raw, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return 0, false
	}
	identity, ok := raw.(uint64)
	return identity, ok
}

func moneyJSON(m money.Money) gin.H {
	return gin.H{
		"amount_minor": m.Amount(),
		"currency":     m.Currency().Code,
		"display":      m.String(),
	}
}

func estimateJSON(e billing.CostEstimate) gin.H {
	return gin.H{
		"storage":    moneyJSON(e.Storage),
		"bandwidth":  moneyJSON(e.Bandwidth),
		"processing": moneyJSON(e.Processing),
		"total":      moneyJSON(e.Total),
	}
}

func quotaJSON(q billing.QuotaCheck) gin.H {
	return gin.H{
		"allowed":       q.Allowed,
		"current_usage": q.CurrentUsage,
		"limit":         q.Limit,
		"unlimited":     q.Limit == plans.Unlimited,
		"reset_date":    q.ResetDate.UTC().Format(time.RFC3339),
		"failed_open":   q.FailedOpen,
	}
}

// setRateLimitHeaders writes the standard rate limit headers of r.
func setRateLimitHeaders(c *gin.Context, r ratelimit.Result, now time.Time) {
	for name, value := range r.Headers(now) {
		c.Header(name, value)
	}
}
