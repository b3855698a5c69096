// Package api registers the HTTP routes of the ingestion control plane.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	handlers "github.com/Michaelasereo/mylinnk-sub001/internal/http/api/handlers"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ingest"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
	internalsettings "github.com/Michaelasereo/mylinnk-sub001/internal/settings"
)

// Limiter checks request throughput for a limiter class.
type Limiter interface {
	Check(ctx context.Context, identity, class string) ratelimit.Result
}

// Dependencies are the components the routes serve.
type Dependencies struct {
	Pipeline  handlers.Pipeline
	Usage     handlers.UsageReporter
	Balances  handlers.BalanceReader
	Providers handlers.ProviderDirectory
	DB        handlers.Pinger
	// Limiter throttles the read-only endpoints under the api class; nil disables it.
	Limiter        Limiter
	Currency       money.Currency
	JWTSecret      string
	MaxUploadBytes int64
}

// RegisterRoutes registers the public routes on r.
func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.Pipeline == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	v1 := r.Group("/v1")
	v1.Use(identityMiddleware(deps.JWTSecret))

	uploadHandler := handlers.NewUploadHandler(deps.Pipeline, deps.MaxUploadBytes)
	// Uploads are throttled by the pipeline itself.
	v1.POST("/uploads", uploadHandler.Create)

	read := v1.Group("")
	read.Use(apiRateLimitMiddleware(deps.Limiter))
	read.GET("/estimate", uploadHandler.Estimate)
	read.GET("/quota", uploadHandler.Quota)

	if deps.Usage != nil {
		usageHandler := handlers.NewUsageHandler(deps.Usage, deps.Balances, deps.Currency)
		read.GET("/usage/summary", usageHandler.Summary)
	}
	if deps.Providers != nil {
		providerHandler := handlers.NewProviderHandler(deps.Providers)
		read.GET("/providers", providerHandler.List)
		read.GET("/providers/health", providerHandler.Health)
	}
}

// apiRateLimitMiddleware applies the api limiter class to the caller.
func apiRateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		identity, ok := handlers.IdentityFrom(c)
		if !ok {
			c.Next()
			return
		}
		result := limiter.Check(c.Request.Context(), strconv.FormatUint(identity, 10), internalsettings.LimiterClassAPI)
		now := time.Now()
		for name, value := range result.Headers(now) {
			c.Header(name, value)
		}
		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "rate limit exceeded",
				"kind":                ingest.KindRateLimited,
				"retry_after_seconds": result.RetryAfterSeconds(now),
			})
			return
		}
		c.Next()
	}
}
