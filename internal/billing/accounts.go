package billing

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
)

// Accounts resolves plan tiers and opens balance accounts.
type Accounts struct {
	db *gorm.DB
}

// NewAccounts constructs an Accounts store backed by GORM.
func NewAccounts(db *gorm.DB) *Accounts { return &Accounts{db: db} }

// ResolvePlan returns the plan tier stored for identity.
func (a *Accounts) ResolvePlan(ctx context.Context, identity uint64) (plans.Tier, error) {
	if a == nil || a.db == nil {
		return plans.Free, errors.New("accounts: not configured")
	}
	var account models.Account
	if errFind := a.db.WithContext(ctx).Select("id", "plan").Where("id = ?", identity).Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return plans.Free, ErrAccountNotFound
		}
		return plans.Free, errFind
	}
	return plans.ParseTier(account.Plan)
}

// Open creates the account of identity with an opening balance.
func (a *Accounts) Open(ctx context.Context, identity uint64, tier plans.Tier, opening money.Money) error {
	if a == nil || a.db == nil {
		return errors.New("accounts: not configured")
	}
	if opening.Currency().Code == "" {
		return fmt.Errorf("accounts: opening balance has no currency")
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := models.Account{
			ID:           identity,
			Plan:         tier.String(),
			BalanceMinor: opening.Amount(),
			Currency:     opening.Currency().Code,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&account)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountExists
		}
		if opening.IsZero() {
			return nil
		}
		return tx.Create(&models.BalanceTransaction{
			UserID:            identity,
			Kind:              models.BalanceTransactionCredit,
			AmountMinor:       opening.Amount(),
			BalanceAfterMinor: opening.Amount(),
			Currency:          opening.Currency().Code,
			Reference:         "opening balance",
		}).Error
	})
}

// SetPlan changes the plan tier of identity.
func (a *Accounts) SetPlan(ctx context.Context, identity uint64, tier plans.Tier) error {
	if a == nil || a.db == nil {
		return errors.New("accounts: not configured")
	}
	res := a.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", identity).Update("plan", tier.String())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
