// Package app wires the ingestion control plane components and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/config"
	"github.com/Michaelasereo/mylinnk-sub001/internal/db"
	"github.com/Michaelasereo/mylinnk-sub001/internal/http/api"
	handlers "github.com/Michaelasereo/mylinnk-sub001/internal/http/api/handlers"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ingest"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/provider"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
	"github.com/Michaelasereo/mylinnk-sub001/internal/usage"
	"github.com/Michaelasereo/mylinnk-sub001/internal/validation"
)

// App holds the wired components.
type App struct {
	Config    config.Config
	DB        *gorm.DB
	Limiter   *ratelimit.Manager
	Accounts  *billing.Accounts
	Ledger    *billing.Ledger
	Recorder  *usage.Recorder
	Gateway   *provider.Gateway
	Estimator *billing.Estimator
	Service   *ingest.Service
	Router    *gin.Engine
}

// Build wires every component over an opened and migrated connection.
// newRedisClient may be nil to use the default client.
func Build(ctx context.Context, cfg config.Config, conn *gorm.DB, newRedisClient ratelimit.RedisClientFactory) (*App, error) {
	if conn == nil {
		return nil, errors.New("app: nil database connection")
	}
	cur, errCur := cfg.Currency()
	if errCur != nil {
		return nil, errCur
	}
	table, errTable := cfg.PlanTable()
	if errTable != nil {
		return nil, errTable
	}
	thresholds, errThresholds := cfg.AlertThresholds()
	if errThresholds != nil {
		return nil, errThresholds
	}
	params, errParams := cfg.BillingParams()
	if errParams != nil {
		return nil, errParams
	}

	recorder := usage.NewRecorder(conn, usage.NewAlerter(thresholds, usage.LogNotifier{}), nil)
	accounts := billing.NewAccounts(conn)
	ledger := billing.NewLedger(conn)

	// Adapters price their own rates; the estimator only needs the shared parameters.
	meterEstimator := billing.NewEstimator(params, nil)
	routes, errRoutes := buildRoutes(cfg, cur, meterEstimator, recorder, &http.Client{})
	if errRoutes != nil {
		return nil, errRoutes
	}
	gateway := provider.NewGateway(provider.Config{
		Failover: cfg.Failover(),
		Backoff:  cfg.Providers.Backoff,
		Timeout:  cfg.Providers.Timeout,
	}, routes)
	estimator := billing.NewEstimator(params, gateway.PrimaryRates())

	limiterSettings := cfg.RateLimitSettings()
	limiter := ratelimit.NewManager(func() ratelimit.SettingsConfig { return limiterSettings }, nil, newRedisClient)
	validator := validation.NewValidator(cfg.Validation, table, accounts, nil)
	quota := billing.NewQuotaChecker(table, accounts, recorder, nil)

	service, errService := ingest.NewService(ingest.Deps{
		Limiter:   limiter,
		Validator: validator,
		Estimator: estimator,
		Quota:     quota,
		Ledger:    ledger,
		Gateway:   gateway,
	}, ingest.Options{
		Timeout:       cfg.Server.RequestTimeout,
		SettleSurplus: cfg.SettleSurplus(),
	})
	if errService != nil {
		return nil, errService
	}

	if errSeed := seedAccounts(ctx, accounts, cfg); errSeed != nil {
		return nil, errSeed
	}

	sqlDB, errSQL := conn.DB()
	if errSQL != nil {
		return nil, fmt.Errorf("app: database handle: %w", errSQL)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	api.RegisterRoutes(router, api.Dependencies{
		Pipeline:       service,
		Usage:          recorder,
		Balances:       ledger,
		Providers:      gateway,
		DB:             sqlDB,
		Limiter:        limiter,
		Currency:       cur,
		JWTSecret:      cfg.JWT.Secret,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	limiter.Memory().Start(ctx, cfg.RateLimit.SweepInterval, nil)

	return &App{
		Config:    cfg,
		DB:        conn,
		Limiter:   limiter,
		Accounts:  accounts,
		Ledger:    ledger,
		Recorder:  recorder,
		Gateway:   gateway,
		Estimator: estimator,
		Service:   service,
		Router:    router,
	}, nil
}

// Close releases the limiter backends.
func (a *App) Close() error {
	if a == nil || a.Limiter == nil {
		return nil
	}
	return a.Limiter.Close()
}

func seedAccounts(ctx context.Context, accounts *billing.Accounts, cfg config.Config) error {
	cur, errCur := cfg.Currency()
	if errCur != nil {
		return errCur
	}
	for _, seed := range cfg.Accounts {
		if seed.ID == 0 {
			return errors.New("app: account seed without id")
		}
		tier, errTier := plans.ParseTier(seed.Plan)
		if errTier != nil {
			return fmt.Errorf("app: account %d: %w", seed.ID, errTier)
		}
		opening, errOpening := seed.OpeningBalance(cur)
		if errOpening != nil {
			return fmt.Errorf("app: account %d: %w", seed.ID, errOpening)
		}
		errOpen := accounts.Open(ctx, seed.ID, tier, opening)
		switch {
		case errOpen == nil:
			log.WithFields(log.Fields{"user_id": seed.ID, "plan": tier.String()}).Info("app: seeded account")
		case errors.Is(errOpen, billing.ErrAccountExists):
		default:
			return fmt.Errorf("app: seed account %d: %w", seed.ID, errOpen)
		}
	}
	return nil
}

// requestLogger logs one line per request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if identity, ok := c.Get(handlers.ContextKeyIdentity); ok {
			if id, okID := identity.(uint64); okID {
				fields["user_id"] = strconv.FormatUint(id, 10)
			}
		}
		entry := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("http: request failed")
		default:
			entry.Debug("http: request")
		}
	}
}

// RunServer opens the database, wires the components and serves until ctx is done.
func RunServer(ctx context.Context, cfg config.Config) error {
	if target, errDescribe := describeDSN(cfg.DSN()); errDescribe == nil {
		log.WithFields(target.Fields()).Info("app: opening database")
	}
	conn, errOpen := db.Open(cfg.DSN())
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	application, errBuild := Build(ctx, cfg, conn, nil)
	if errBuild != nil {
		return errBuild
	}
	defer func() {
		if errClose := application.Close(); errClose != nil {
			log.WithError(errClose).Warn("app: close limiter")
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           application.Router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting ingest server on %s with config=%s", server.Addr, cfg.ConfigPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", errServe)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down ingest server")
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}
