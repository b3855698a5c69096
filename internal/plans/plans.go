// Package plans defines the closed set of plan tiers and their limits.
package plans

import (
	"fmt"
	"strings"

	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
)

// Tier is a subscription plan tier.
type Tier int

// Tier constants. The zero value is Free.
const (
	Free Tier = iota
	Pro
	Enterprise
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{Free, Pro, Enterprise}

// String returns the canonical upper-case name.
func (t Tier) String() string {
	switch t {
	case Free:
		return "FREE"
	case Pro:
		return "PRO"
	case Enterprise:
		return "ENTERPRISE"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier resolves a tier name, case-insensitively.
func ParseTier(raw string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FREE":
		return Free, nil
	case "PRO":
		return Pro, nil
	case "ENTERPRISE":
		return Enterprise, nil
	default:
		return Free, fmt.Errorf("plans: unknown tier %q", raw)
	}
}

// QuotaType names a metered monthly quota.
type QuotaType string

// QuotaType constants.
const (
	QuotaStorage   QuotaType = "storage"
	QuotaBandwidth QuotaType = "bandwidth"
	QuotaUploads   QuotaType = "uploads"
)

// ParseQuotaType resolves a quota type name.
func ParseQuotaType(raw string) (QuotaType, error) {
	switch QuotaType(strings.ToLower(strings.TrimSpace(raw))) {
	case QuotaStorage:
		return QuotaStorage, nil
	case QuotaBandwidth:
		return QuotaBandwidth, nil
	case QuotaUploads:
		return QuotaUploads, nil
	default:
		return "", fmt.Errorf("plans: unknown quota type %q", raw)
	}
}

// Unlimited is the limit sentinel for quotas without a ceiling.
const Unlimited = -1

// Limits holds the quotas and per-class byte ceilings of a tier.
type Limits struct {
	StorageGB   float64
	BandwidthGB float64
	Uploads     float64
	MaxBytes    map[media.ContentClass]int64
}

// Quota returns the monthly limit for q.
func (l Limits) Quota(q QuotaType) float64 {
	switch q {
	case QuotaStorage:
		return l.StorageGB
	case QuotaBandwidth:
		return l.BandwidthGB
	case QuotaUploads:
		return l.Uploads
	default:
		return 0
	}
}

// Table maps tiers to limits.
type Table map[Tier]Limits

const mib = 1 << 20

// DefaultTable returns the stock plan configuration.
func DefaultTable() Table {
	return Table{
		Free: {
			StorageGB:   5,
			BandwidthGB: 10,
			Uploads:     100,
			MaxBytes: map[media.ContentClass]int64{
				media.ClassVideo: 50 * mib,
				media.ClassImage: 10 * mib,
			},
		},
		Pro: {
			StorageGB:   100,
			BandwidthGB: 500,
			Uploads:     5000,
			MaxBytes: map[media.ContentClass]int64{
				media.ClassVideo: 200 * mib,
				media.ClassImage: 20 * mib,
			},
		},
		Enterprise: {
			StorageGB:   Unlimited,
			BandwidthGB: Unlimited,
			Uploads:     Unlimited,
			MaxBytes: map[media.ContentClass]int64{
				media.ClassVideo: 500 * mib,
				media.ClassImage: 20 * mib,
			},
		},
	}
}

// Limits returns the limits for tier, falling back to the default table entry
// when the table was configured without it.
func (t Table) Limits(tier Tier) Limits {
	if l, ok := t[tier]; ok {
		return l
	}
	return DefaultTable()[tier]
}

// Limit returns the monthly quota of tier for q.
func (t Table) Limit(tier Tier, q QuotaType) float64 {
	return t.Limits(tier).Quota(q)
}

// MaxBytes returns the byte ceiling of tier for class, or 0 when none is set.
func (t Table) MaxBytes(tier Tier, class media.ContentClass) int64 {
	return t.Limits(tier).MaxBytes[class]
}
