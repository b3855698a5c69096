// Package provider routes uploads across interchangeable storage and transcoding backends.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
)

// Kind tags the adapter family of a registration.
type Kind string

// Kind constants.
const (
	KindHTTP Kind = "http"
	KindS3   Kind = "s3"
	KindFunc Kind = "func"
)

// Request is one upload attempt handed to an adapter.
type Request struct {
	File     media.File
	Class    media.ContentClass
	Identity uint64
}

// Result is the outcome of a successful upload.
type Result struct {
	Success      bool
	AssetID      string
	PlaybackID   string
	URL          string
	ThumbnailURL string
	Provider     string
	Metadata     map[string]any
	// Cost is what the provider charged, priced at its own rates.
	Cost money.Money
}

// Uploader is the capability every adapter provides. Implementations must return once
// ctx is done and must not touch the request body afterwards.
type Uploader interface {
	Upload(ctx context.Context, req Request) (Result, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, req Request) (Result, error)

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// AssetLocator is the optional capability to address and remove stored assets.
type AssetLocator interface {
	PlaybackURL(assetID string) (string, error)
	ThumbnailURL(assetID string) (string, error)
	Delete(ctx context.Context, assetID string) error
}

// HealthChecker is the optional capability to check a backend.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Registration binds an adapter and its capabilities under a name.
type Registration struct {
	Name     string
	Kind     Kind
	Uploader Uploader
	// Assets is nil when the adapter cannot address stored assets.
	Assets AssetLocator
	// Health is nil when the adapter has no health check.
	Health  HealthChecker
	Timeout time.Duration
	Rates   billing.Rates
}

// UsageSink receives the usage records adapters emit.
type UsageSink interface {
	Record(ctx context.Context, record models.UsageRecord)
}

// Meter prices an upload at one provider's rates and emits its usage record.
type Meter struct {
	Provider  string
	Rates     billing.Rates
	Estimator *billing.Estimator
	Sink      UsageSink
}

// Charge prices req and records an UPLOAD usage entry. A positive durationMinutes
// replaces the size-based duration heuristic.
func (m Meter) Charge(ctx context.Context, req Request, assetID string, durationMinutes decimal.Decimal) money.Money {
	cost := money.Zero(m.Rates.Currency)
	if m.Estimator != nil {
		estimate, errEstimate := m.Estimator.EstimateWith(req.File.Size, req.Class, m.Rates, durationMinutes)
		if errEstimate != nil {
			log.WithError(errEstimate).WithField("provider", m.Provider).Warn("provider gateway: unable to price upload")
		} else {
			cost = estimate.Total
		}
	}
	if m.Sink == nil {
		return cost
	}

	meta := map[string]any{
		"asset_id": assetID,
		"class":    string(req.Class),
		"bytes":    req.File.Size,
	}
	if durationMinutes.IsPositive() {
		meta["duration_minutes"] = durationMinutes.String()
	}
	metaJSON, errMarshal := json.Marshal(meta)
	if errMarshal != nil {
		metaJSON = []byte("{}")
	}
	m.Sink.Record(ctx, models.UsageRecord{
		UserID:       req.Identity,
		Type:         models.UsageTypeUpload,
		Provider:     m.Provider,
		Amount:       req.File.SizeGB(),
		CostMinor:    cost.Amount(),
		CostCurrency: cost.Currency().Code,
		Metadata:     datatypes.JSON(metaJSON),
	})
	return cost
}
