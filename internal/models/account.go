package models

import "time"

// Account holds the plan tier and prepaid balance of a caller identity.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement:false"` // Caller identity.

	Plan string `gorm:"type:varchar(32);not null;default:'FREE'"` // Plan tier name.

	BalanceMinor int64  `gorm:"not null;default:0"`                     // Balance in minor currency units.
	Currency     string `gorm:"type:varchar(8);not null;default:'USD'"` // Balance currency code.

	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
