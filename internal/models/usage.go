package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageType identifies what a usage record metered.
type UsageType string

// UsageType constants define the metered dimensions.
const (
	// UsageTypeUpload meters gigabytes accepted by a provider.
	UsageTypeUpload UsageType = "UPLOAD"
	// UsageTypeStorage meters retained gigabytes.
	UsageTypeStorage UsageType = "STORAGE"
	// UsageTypeBandwidth meters delivered gigabytes.
	UsageTypeBandwidth UsageType = "BANDWIDTH"
	// UsageTypeTranscoding meters processed minutes.
	UsageTypeTranscoding UsageType = "TRANSCODING"
)

// UsageRecord is an append-only ledger entry of consumption and its cost.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   uint64    `gorm:"not null;index:idx_usage_user_type_created,priority:1"`                  // Caller identity.
	Type     UsageType `gorm:"type:varchar(32);not null;index:idx_usage_user_type_created,priority:2"` // Metered dimension.
	Provider string    `gorm:"type:varchar(64);not null;default:''"`                                   // Provider that served the usage.

	Amount float64 `gorm:"type:decimal(20,10);not null;default:0"` // Consumed amount (GB, minutes or count).

	CostMinor    int64  `gorm:"not null;default:0"`                     // Cost in minor currency units.
	CostCurrency string `gorm:"type:varchar(8);not null;default:'USD'"` // Cost currency code.

	Metadata datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Free-form provider metadata.

	CreatedAt time.Time `gorm:"not null;index:idx_usage_user_type_created,priority:3"` // Creation timestamp.
}
