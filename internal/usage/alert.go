package usage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
)

// Alert windows.
const (
	WindowDaily   = "daily"
	WindowMonthly = "monthly"
)

// Alert reports that an identity's spend crossed a threshold.
type Alert struct {
	UserID    uint64
	Window    string
	Spent     money.Money
	Threshold money.Money
	At        time.Time
}

// Notifier delivers spend alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// LogNotifier writes alerts to the log at warn level.
type LogNotifier struct{}

// Notify logs alert.
func (LogNotifier) Notify(_ context.Context, alert Alert) {
	log.WithFields(log.Fields{
		"user_id":   alert.UserID,
		"window":    alert.Window,
		"spent":     alert.Spent.String(),
		"threshold": alert.Threshold.String(),
	}).Warn("usage: spend threshold crossed")
}

// Thresholds are the spend levels that raise alerts. A zero value disables a window.
type Thresholds struct {
	Daily   money.Money
	Monthly money.Money
}

// DefaultThresholds returns $10 per day and $50 per month.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Daily:   money.MustFromMinor(1000, money.USD),
		Monthly: money.MustFromMinor(5000, money.USD),
	}
}

// SpendSource sums recorded cost.
type SpendSource interface {
	SpendSince(ctx context.Context, identity uint64, cur money.Currency, since time.Time) (money.Money, error)
}

// Alerter raises an alert when a newly recorded cost moves spend across a threshold.
type Alerter struct {
	thresholds Thresholds
	notifier   Notifier
}

// NewAlerter constructs an Alerter. A nil notifier logs.
func NewAlerter(thresholds Thresholds, notifier Notifier) *Alerter {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Alerter{thresholds: thresholds, notifier: notifier}
}

// Check evaluates both windows after latest was recorded at now and returns the alerts sent.
func (a *Alerter) Check(ctx context.Context, source SpendSource, identity uint64, latest money.Money, now time.Time) []Alert {
	if a == nil || source == nil {
		return nil
	}
	var sent []Alert
	windows := []struct {
		name      string
		since     time.Time
		threshold money.Money
	}{
		{WindowDaily, DayStart(now), a.thresholds.Daily},
		{WindowMonthly, billing.MonthStart(now), a.thresholds.Monthly},
	}
	for _, w := range windows {
		if w.threshold.IsZero() || w.threshold.Currency() != latest.Currency() {
			continue
		}
		spent, errSpend := source.SpendSince(ctx, identity, latest.Currency(), w.since)
		if errSpend != nil {
			log.WithError(errSpend).WithField("user_id", identity).Warn("usage: alert check failed")
			continue
		}
		if !crossed(spent, latest, w.threshold) {
			continue
		}
		alert := Alert{UserID: identity, Window: w.name, Spent: spent, Threshold: w.threshold, At: now.UTC()}
		a.notifier.Notify(ctx, alert)
		sent = append(sent, alert)
	}
	return sent
}

// crossed reports whether spend reached threshold with latest and was below it before.
func crossed(spent, latest, threshold money.Money) bool {
	if !spent.GreaterThanOrEqual(threshold) {
		return false
	}
	before, errBefore := spent.Subtract(latest)
	if errBefore != nil {
		return true
	}
	return !before.GreaterThanOrEqual(threshold)
}
