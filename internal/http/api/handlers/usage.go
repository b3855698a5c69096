package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/usage"
)

// UsageReporter aggregates current-period usage.
type UsageReporter interface {
	Summary(ctx context.Context, identity uint64, cur money.Currency, now time.Time) (usage.Summary, error)
}

// BalanceReader reads prepaid balances.
type BalanceReader interface {
	Balance(ctx context.Context, identity uint64) (money.Money, error)
}

// UsageHandler serves the usage summary endpoint.
type UsageHandler struct {
	reporter UsageReporter
	balances BalanceReader
	currency money.Currency
	nowFn    func() time.Time
}

// NewUsageHandler constructs a UsageHandler. balances may be nil.
func NewUsageHandler(reporter UsageReporter, balances BalanceReader, cur money.Currency) *UsageHandler {
	return &UsageHandler{reporter: reporter, balances: balances, currency: cur, nowFn: time.Now}
}

// Summary returns today's and this month's spend with per-type monthly amounts.
func (h *UsageHandler) Summary(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	ctx := c.Request.Context()
	summary, errSummary := h.reporter.Summary(ctx, identity, h.currency, h.nowFn())
	if errSummary != nil {
		log.WithError(errSummary).WithField("user_id", identity).Error("http: usage summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage summary failed"})
		return
	}

	amounts := make(gin.H, len(summary.Amounts))
	for usageType, amount := range summary.Amounts {
		amounts[string(usageType)] = amount
	}
	out := gin.H{
		"user_id":    summary.UserID,
		"today":      moneyJSON(summary.Today),
		"month":      moneyJSON(summary.Month),
		"amounts":    amounts,
		"uploads":    summary.Uploads,
		"reset_date": summary.ResetDate.UTC().Format(time.RFC3339),
	}
	if h.balances != nil {
		if balance, errBalance := h.balances.Balance(ctx, identity); errBalance == nil {
			out["balance"] = moneyJSON(balance)
		}
	}
	c.JSON(http.StatusOK, out)
}
