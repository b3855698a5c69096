// Package billing estimates upload costs, enforces monthly quotas and moves
// prepaid balances.
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
)

// ErrNoRates indicates no rate table is configured for a content class.
var ErrNoRates = errors.New("billing: no rates configured for content class")

var bytesPerGB = decimal.NewFromInt(1 << 30)

// Rates is a provider cost table in major units of Currency.
type Rates struct {
	Currency           money.Currency
	StoragePerGBDay    decimal.Decimal
	BandwidthPerGB     decimal.Decimal
	TranscodePerMinute decimal.Decimal
}

// Params holds the usage assumptions behind an estimate.
type Params struct {
	RetentionDays  int64
	ExpectedViews  int64
	StreamFraction decimal.Decimal
	BytesPerMinute int64
}

// DefaultParams returns the stock estimate assumptions.
func DefaultParams() Params {
	return Params{
		RetentionDays:  30,
		ExpectedViews:  100,
		StreamFraction: decimal.RequireFromString("0.3"),
		BytesPerMinute: 10 << 20,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.RetentionDays <= 0 {
		p.RetentionDays = def.RetentionDays
	}
	if p.ExpectedViews < 0 {
		p.ExpectedViews = def.ExpectedViews
	}
	if p.StreamFraction.IsZero() || p.StreamFraction.IsNegative() {
		p.StreamFraction = def.StreamFraction
	}
	if p.BytesPerMinute <= 0 {
		p.BytesPerMinute = def.BytesPerMinute
	}
	return p
}

// CostEstimate is a cost breakdown in one currency. Total is the sum of the parts.
type CostEstimate struct {
	Storage    money.Money
	Bandwidth  money.Money
	Processing money.Money
	Total      money.Money
}

// Estimator computes cost estimates from the primary provider rates per content class.
type Estimator struct {
	params  Params
	primary map[media.ContentClass]Rates
}

// NewEstimator constructs an Estimator.
func NewEstimator(params Params, primary map[media.ContentClass]Rates) *Estimator {
	rates := make(map[media.ContentClass]Rates, len(primary))
	for class, r := range primary {
		rates[class] = r
	}
	return &Estimator{params: params.withDefaults(), primary: rates}
}

// Params returns the effective estimate assumptions.
func (e *Estimator) Params() Params {
	return e.params
}

// Estimate prices an upload of size bytes at the primary provider rates for class.
func (e *Estimator) Estimate(size int64, class media.ContentClass) (CostEstimate, error) {
	rates, ok := e.primary[class]
	if !ok {
		return CostEstimate{}, fmt.Errorf("%w: %s", ErrNoRates, class)
	}
	return e.EstimateWith(size, class, rates, decimal.Zero)
}

// EstimateWith prices an upload at the given rates. A positive durationMinutes replaces
// the bytes-per-minute duration heuristic for video.
func (e *Estimator) EstimateWith(size int64, class media.ContentClass, rates Rates, durationMinutes decimal.Decimal) (CostEstimate, error) {
	if size < 0 {
		return CostEstimate{}, fmt.Errorf("billing: negative size %d", size)
	}
	cur := rates.Currency
	sizeBytes := decimal.NewFromInt(size)
	sizeGB := sizeBytes.Div(bytesPerGB)

	storage, errStorage := money.FromMajor(sizeGB.Mul(rates.StoragePerGBDay).Mul(decimal.NewFromInt(e.params.RetentionDays)), cur)
	if errStorage != nil {
		return CostEstimate{}, fmt.Errorf("billing: storage cost: %w", errStorage)
	}

	viewBytes := sizeBytes
	if class == media.ClassVideo {
		viewBytes = sizeBytes.Mul(e.params.StreamFraction)
	}
	deliveredGB := viewBytes.Mul(decimal.NewFromInt(e.params.ExpectedViews)).Div(bytesPerGB)
	bandwidth, errBandwidth := money.FromMajor(deliveredGB.Mul(rates.BandwidthPerGB), cur)
	if errBandwidth != nil {
		return CostEstimate{}, fmt.Errorf("billing: bandwidth cost: %w", errBandwidth)
	}

	processing := money.Zero(cur)
	if class == media.ClassVideo {
		minutes := durationMinutes
		if !minutes.IsPositive() {
			minutes = e.EstimatedMinutes(size)
		}
		var errProcessing error
		processing, errProcessing = money.FromMajor(minutes.Mul(rates.TranscodePerMinute), cur)
		if errProcessing != nil {
			return CostEstimate{}, fmt.Errorf("billing: processing cost: %w", errProcessing)
		}
	}

	total, errTotal := storage.Add(bandwidth)
	if errTotal == nil {
		total, errTotal = total.Add(processing)
	}
	if errTotal != nil {
		return CostEstimate{}, fmt.Errorf("billing: total cost: %w", errTotal)
	}
	return CostEstimate{
		Storage:    storage,
		Bandwidth:  bandwidth,
		Processing: processing,
		Total:      total,
	}, nil
}

// EstimatedMinutes derives a video duration from its size.
func (e *Estimator) EstimatedMinutes(size int64) decimal.Decimal {
	return decimal.NewFromInt(size).Div(decimal.NewFromInt(e.params.BytesPerMinute))
}
