package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
)

var (
	// ErrNoProviders indicates no adapter is registered for a content class.
	ErrNoProviders = errors.New("provider gateway: no providers registered")
	// ErrUnknownProvider indicates a lookup by a name that is not registered.
	ErrUnknownProvider = errors.New("provider gateway: unknown provider")
	// ErrUnsupported indicates the adapter lacks the requested capability.
	ErrUnsupported = errors.New("provider gateway: capability not supported")
)

const (
	defaultBackoff = time.Second
	defaultTimeout = 2 * time.Minute
)

// Attempt is one failed adapter call.
type Attempt struct {
	Provider string
	Err      error
	Duration time.Duration
}

// ExhaustedError reports that every candidate for a content class failed.
type ExhaustedError struct {
	Class    media.ContentClass
	Attempts []Attempt
}

// Error lists every adapter failure in the order the adapters were tried.
func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.Provider+": "+attempt.Err.Error())
	}
	return fmt.Sprintf("provider gateway: all %d %s providers failed: %s", len(e.Attempts), e.Class, strings.Join(parts, "; "))
}

// Unwrap exposes the individual adapter errors.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		errs = append(errs, attempt.Err)
	}
	return errs
}

// Config controls the failover loop.
type Config struct {
	// Failover enables trying the next candidate after a failure.
	Failover bool
	// Backoff is the pause before the next candidate; zero selects one second and a
	// negative value disables the pause.
	Backoff time.Duration
	// Timeout applies to registrations without their own timeout.
	Timeout time.Duration
}

// Gateway tries the adapters of a content class in priority order.
type Gateway struct {
	cfg    Config
	routes map[media.ContentClass][]Registration
	sleep  func(ctx context.Context, d time.Duration) error
	nowFn  func() time.Time
}

// NewGateway constructs a Gateway over routes, each list in priority order.
func NewGateway(cfg Config, routes map[media.ContentClass][]Registration) *Gateway {
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	} else if cfg.Backoff == 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	copied := make(map[media.ContentClass][]Registration, len(routes))
	for class, regs := range routes {
		copied[class] = append([]Registration(nil), regs...)
	}
	return &Gateway{cfg: cfg, routes: copied, sleep: sleepContext, nowFn: time.Now}
}

// SetSleep replaces the backoff sleeper.
func (g *Gateway) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if g == nil || fn == nil {
		return
	}
	g.sleep = fn
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Upload tries each adapter for class until one succeeds.
func (g *Gateway) Upload(ctx context.Context, file media.File, class media.ContentClass, identity uint64) (Result, error) {
	if g == nil {
		return Result{}, ErrNoProviders
	}
	candidates := g.routes[class]
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoProviders, class)
	}

	exhausted := &ExhaustedError{Class: class}
	for i, reg := range candidates {
		started := g.nowFn()
		res, errUpload := g.attempt(ctx, reg, Request{File: file, Class: class, Identity: identity})
		if errUpload == nil {
			if res.Provider == "" {
				res.Provider = reg.Name
			}
			return res, nil
		}

		log.WithError(errUpload).WithFields(log.Fields{
			"provider": reg.Name,
			"attempt":  i + 1,
			"class":    class,
		}).Warn("provider gateway: upload failed")
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Provider: reg.Name, Err: errUpload, Duration: g.nowFn().Sub(started)})

		if errCtx := ctx.Err(); errCtx != nil {
			return Result{}, fmt.Errorf("provider gateway: upload abandoned after %d attempts: %w", len(exhausted.Attempts), errCtx)
		}
		if !g.cfg.Failover || i == len(candidates)-1 {
			break
		}
		if errSleep := g.sleep(ctx, g.cfg.Backoff); errSleep != nil {
			return Result{}, fmt.Errorf("provider gateway: upload abandoned after %d attempts: %w", len(exhausted.Attempts), errSleep)
		}
	}
	return Result{}, exhausted
}

func (g *Gateway) attempt(ctx context.Context, reg Registration, req Request) (Result, error) {
	if reg.Uploader == nil {
		return Result{}, errors.New("no uploader configured")
	}
	if errRewind := req.File.Rewind(); errRewind != nil {
		return Result{}, fmt.Errorf("rewind body: %w", errRewind)
	}
	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, errUpload := reg.Uploader.Upload(callCtx, req)
	if errUpload == nil && callCtx.Err() != nil {
		// A result delivered past the deadline is discarded like any other failure.
		if errCtx := ctx.Err(); errCtx != nil {
			return Result{}, errCtx
		}
		log.WithFields(log.Fields{"provider": reg.Name, "asset_id": res.AssetID}).Warn("provider gateway: upload finished after its deadline, discarding")
		return Result{}, fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	if errUpload != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("timed out after %s: %w", timeout, errUpload)
		}
		return Result{}, errUpload
	}
	if !res.Success {
		return Result{}, errors.New("provider reported an unsuccessful upload")
	}
	return res, nil
}

// AdapterInfo describes a registration for introspection.
type AdapterInfo struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Priority  int    `json:"priority"`
	Timeout   string `json:"timeout"`
	HasAssets bool   `json:"has_assets"`
	HasHealth bool   `json:"has_health"`
}

// Adapters lists the registrations for class in priority order.
func (g *Gateway) Adapters(class media.ContentClass) []AdapterInfo {
	if g == nil {
		return nil
	}
	regs := g.routes[class]
	out := make([]AdapterInfo, 0, len(regs))
	for i, reg := range regs {
		timeout := reg.Timeout
		if timeout <= 0 {
			timeout = g.cfg.Timeout
		}
		out = append(out, AdapterInfo{
			Name:      reg.Name,
			Kind:      reg.Kind,
			Priority:  i + 1,
			Timeout:   timeout.String(),
			HasAssets: reg.Assets != nil,
			HasHealth: reg.Health != nil,
		})
	}
	return out
}

// PrimaryRates returns the rates of the highest-priority adapter per class.
func (g *Gateway) PrimaryRates() map[media.ContentClass]billing.Rates {
	out := make(map[media.ContentClass]billing.Rates)
	if g == nil {
		return out
	}
	for class, regs := range g.routes {
		if len(regs) > 0 {
			out[class] = regs[0].Rates
		}
	}
	return out
}

// HealthStatus is the health check outcome of one adapter.
type HealthStatus struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Healthy bool   `json:"healthy"`
	Checked bool   `json:"checked"`
	Error   string `json:"error,omitempty"`
}

// Health checks every distinct adapter that has a health capability.
func (g *Gateway) Health(ctx context.Context) []HealthStatus {
	if g == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []HealthStatus
	for _, reg := range g.all() {
		if _, ok := seen[reg.Name]; ok {
			continue
		}
		seen[reg.Name] = struct{}{}
		status := HealthStatus{Name: reg.Name, Kind: reg.Kind, Healthy: true}
		if reg.Health != nil {
			status.Checked = true
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if errCheck := reg.Health.Check(checkCtx); errCheck != nil {
				status.Healthy = false
				status.Error = errCheck.Error()
			}
			cancel()
		}
		out = append(out, status)
	}
	return out
}

// PlaybackURL resolves the playback URL of an asset stored by provider.
func (g *Gateway) PlaybackURL(provider, assetID string) (string, error) {
	assets, errFind := g.assets(provider)
	if errFind != nil {
		return "", errFind
	}
	return assets.PlaybackURL(assetID)
}

// ThumbnailURL resolves the thumbnail URL of an asset stored by provider.
func (g *Gateway) ThumbnailURL(provider, assetID string) (string, error) {
	assets, errFind := g.assets(provider)
	if errFind != nil {
		return "", errFind
	}
	return assets.ThumbnailURL(assetID)
}

// Delete removes an asset stored by provider.
func (g *Gateway) Delete(ctx context.Context, provider, assetID string) error {
	assets, errFind := g.assets(provider)
	if errFind != nil {
		return errFind
	}
	return assets.Delete(ctx, assetID)
}

func (g *Gateway) assets(provider string) (AssetLocator, error) {
	if g == nil {
		return nil, ErrUnknownProvider
	}
	for _, reg := range g.all() {
		if reg.Name != provider {
			continue
		}
		if reg.Assets == nil {
			return nil, fmt.Errorf("%w: %s has no asset capability", ErrUnsupported, provider)
		}
		return reg.Assets, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}

// all returns every registration, classes in name order.
func (g *Gateway) all() []Registration {
	classes := make([]string, 0, len(g.routes))
	for class := range g.routes {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	var out []Registration
	for _, class := range classes {
		out = append(out, g.routes[media.ContentClass(class)]...)
	}
	return out
}
