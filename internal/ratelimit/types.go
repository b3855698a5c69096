package ratelimit

import (
	"context"
	"time"
)

// Rule is a sliding-window budget: at most MaxRequests within any Window.
type Rule struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max-requests"`
}

// Enabled reports whether the rule limits anything.
func (r Rule) Enabled() bool {
	return r.Window > 0 && r.MaxRequests > 0
}

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed       bool
	Limit         int
	Remaining     int
	ResetTime     time.Time
	TotalRequests int
	// FailedOpen is set when the check could not be evaluated and was allowed.
	FailedOpen bool
}

// Limiter provides sliding-window rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule, now time.Time) (Result, error)
}

func allowAll(rule Rule) Result {
	return Result{Allowed: true, Limit: rule.MaxRequests, Remaining: rule.MaxRequests}
}
