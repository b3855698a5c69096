package usage

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
)

// recordTimeout bounds the usage insert independently of the request context.
const recordTimeout = 5 * time.Second

// Recorder persists append-only usage records and aggregates them for quotas and alerts.
type Recorder struct {
	db      *gorm.DB
	alerter *Alerter
	nowFn   func() time.Time
}

// NewRecorder constructs a Recorder backed by GORM. A nil alerter disables alerting.
func NewRecorder(db *gorm.DB, alerter *Alerter, nowFn func() time.Time) *Recorder {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Recorder{db: db, alerter: alerter, nowFn: nowFn}
}

// Record inserts record and runs the spend alert check. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, record models.UsageRecord) {
	if r == nil || r.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	row := record
	row.ID = 0
	row.Provider = strings.TrimSpace(row.Provider)
	if row.CostCurrency == "" {
		row.CostCurrency = money.USD.Code
	}
	if len(row.Metadata) == 0 {
		row.Metadata = datatypes.JSON("{}")
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.nowFn().UTC()
	}

	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithFields(log.Fields{
			"user_id":  row.UserID,
			"type":     row.Type,
			"provider": row.Provider,
		}).Warn("usage: failed to persist usage record")
		return
	}

	if r.alerter == nil || row.CostMinor <= 0 {
		return
	}
	cur, errCur := money.LookupCurrency(row.CostCurrency)
	if errCur != nil {
		log.WithError(errCur).Warn("usage: skipping alert check")
		return
	}
	latest, _ := money.FromMinor(row.CostMinor, cur)
	r.alerter.Check(dbCtx, r, row.UserID, latest, row.CreatedAt)
}

// SumAmountSince sums the amount of the given usage types recorded since since.
func (r *Recorder) SumAmountSince(ctx context.Context, identity uint64, types []models.UsageType, since time.Time) (float64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("usage: recorder not configured")
	}
	var total float64
	if errSum := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("user_id = ? AND type IN ? AND created_at >= ?", identity, types, since.UTC()).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; errSum != nil {
		return 0, errSum
	}
	return total, nil
}

// CountSince counts records of usageType recorded since since.
func (r *Recorder) CountSince(ctx context.Context, identity uint64, usageType models.UsageType, since time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("usage: recorder not configured")
	}
	var count int64
	if errCount := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("user_id = ? AND type = ? AND created_at >= ?", identity, usageType, since.UTC()).
		Count(&count).Error; errCount != nil {
		return 0, errCount
	}
	return count, nil
}

// SpendSince sums the cost in cur recorded since since.
func (r *Recorder) SpendSince(ctx context.Context, identity uint64, cur money.Currency, since time.Time) (money.Money, error) {
	if r == nil || r.db == nil {
		return money.Money{}, errors.New("usage: recorder not configured")
	}
	var costMinor int64
	if errSum := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("user_id = ? AND cost_currency = ? AND created_at >= ?", identity, cur.Code, since.UTC()).
		Select("COALESCE(SUM(cost_minor), 0)").
		Scan(&costMinor).Error; errSum != nil {
		return money.Money{}, errSum
	}
	return money.FromMinor(costMinor, cur)
}

// Summary is the current-period usage of one identity.
type Summary struct {
	UserID    uint64
	Today     money.Money
	Month     money.Money
	Amounts   map[models.UsageType]float64
	Uploads   int64
	ResetDate time.Time
}

// Summary aggregates today's and this month's spend plus per-type monthly amounts.
func (r *Recorder) Summary(ctx context.Context, identity uint64, cur money.Currency, now time.Time) (Summary, error) {
	monthStart := billing.MonthStart(now)
	today, errToday := r.SpendSince(ctx, identity, cur, DayStart(now))
	if errToday != nil {
		return Summary{}, errToday
	}
	month, errMonth := r.SpendSince(ctx, identity, cur, monthStart)
	if errMonth != nil {
		return Summary{}, errMonth
	}

	// row holds one per-type aggregate.
	var rows []struct {
		Type  models.UsageType
		Total float64
	}
	if errRows := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("type, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND created_at >= ?", identity, monthStart).
		Group("type").
		Scan(&rows).Error; errRows != nil {
		return Summary{}, errRows
	}
	amounts := make(map[models.UsageType]float64, len(rows))
	for _, row := range rows {
		amounts[row.Type] = row.Total
	}

	uploads, errCount := r.CountSince(ctx, identity, models.UsageTypeUpload, monthStart)
	if errCount != nil {
		return Summary{}, errCount
	}
	return Summary{
		UserID:    identity,
		Today:     today,
		Month:     month,
		Amounts:   amounts,
		Uploads:   uploads,
		ResetDate: billing.NextMonthStart(now),
	}, nil
}

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var _ billing.UsageAggregator = (*Recorder)(nil)
