package ratelimit

import (
	"math"
	"strconv"
	"time"
)

// Standard response header names.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderUsed       = "X-RateLimit-Used"
	HeaderRetryAfter = "Retry-After"
)

// RetryAfterSeconds returns the whole seconds until the window frees a slot,
// rounded up and at least 1 for rejected results.
func (r Result) RetryAfterSeconds(now time.Time) int {
	if r.Allowed {
		return 0
	}
	secs := int(math.Ceil(r.ResetTime.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Headers synthesizes rate limit response headers for r.
func (r Result) Headers(now time.Time) map[string]string {
	if r.Limit <= 0 {
		return map[string]string{}
	}
	used := r.TotalRequests
	if used > r.Limit {
		used = r.Limit
	}
	headers := map[string]string{
		HeaderLimit:     strconv.Itoa(r.Limit),
		HeaderRemaining: strconv.Itoa(r.Remaining),
		HeaderUsed:      strconv.Itoa(used),
	}
	if !r.ResetTime.IsZero() {
		headers[HeaderReset] = strconv.FormatInt(r.ResetTime.Unix(), 10)
	}
	if !r.Allowed {
		headers[HeaderRetryAfter] = strconv.Itoa(r.RetryAfterSeconds(now))
	}
	return headers
}
