package models

import "time"

// BalanceTransactionKind describes a balance mutation.
type BalanceTransactionKind string

// BalanceTransactionKind constants.
const (
	// BalanceTransactionReserve marks funds reserved ahead of an upload.
	BalanceTransactionReserve BalanceTransactionKind = "reserve"
	// BalanceTransactionRefund marks funds returned to the balance.
	BalanceTransactionRefund BalanceTransactionKind = "refund"
	// BalanceTransactionCredit marks an opening or manual credit.
	BalanceTransactionCredit BalanceTransactionKind = "credit"
)

// BalanceTransaction journals every mutation of an account balance.
type BalanceTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64                 `gorm:"not null;index"`            // Related account ID.
	Kind   BalanceTransactionKind `gorm:"type:varchar(16);not null"` // Mutation kind.

	AmountMinor       int64  `gorm:"not null"`                   // Mutated amount in minor units.
	BalanceAfterMinor int64  `gorm:"not null"`                   // Balance after the mutation.
	Currency          string `gorm:"type:varchar(8);not null"`   // Currency code.
	Reference         string `gorm:"type:varchar(128);not null"` // Caller-supplied reference.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
