package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
)

var (
	// ErrAccountNotFound indicates the identity has no balance account.
	ErrAccountNotFound = errors.New("billing: account not found")
	// ErrAccountExists indicates an account was opened twice.
	ErrAccountExists = errors.New("billing: account already exists")
)

// Ledger moves prepaid balances. Every mutation is a single conditional UPDATE plus a
// journal row inside one transaction.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a Ledger backed by GORM.
func NewLedger(db *gorm.DB) *Ledger { return &Ledger{db: db} }

// Reserve deducts amount from the identity's balance when it is sufficient.
// It returns false without mutating anything when the balance is too low.
func (l *Ledger) Reserve(ctx context.Context, identity uint64, amount money.Money, reference string) (bool, error) {
	if l == nil || l.db == nil {
		return false, errors.New("ledger: not configured")
	}
	if amount.IsZero() {
		if _, errBalance := l.Balance(ctx, identity); errBalance != nil {
			return false, errBalance
		}
		return true, nil
	}

	reserved := false
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("id = ? AND currency = ? AND balance_minor >= ?", identity, amount.Currency().Code, amount.Amount()).
			Update("balance_minor", gorm.Expr("balance_minor - ?", amount.Amount()))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return explainMiss(tx, identity, amount)
		}
		reserved = true
		return journal(tx, identity, models.BalanceTransactionReserve, amount, reference)
	})
	if errTx != nil {
		return false, errTx
	}
	return reserved, nil
}

// Refund adds amount back to the identity's balance. Callers must not refund twice.
func (l *Ledger) Refund(ctx context.Context, identity uint64, amount money.Money, reference string) error {
	if l == nil || l.db == nil {
		return errors.New("ledger: not configured")
	}
	if amount.IsZero() {
		return nil
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("id = ? AND currency = ?", identity, amount.Currency().Code).
			Update("balance_minor", gorm.Expr("balance_minor + ?", amount.Amount()))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if errMiss := explainMiss(tx, identity, amount); errMiss != nil {
				return errMiss
			}
			return fmt.Errorf("ledger: refund for user %d matched no account", identity)
		}
		return journal(tx, identity, models.BalanceTransactionRefund, amount, reference)
	})
}

// Balance returns the identity's current balance.
func (l *Ledger) Balance(ctx context.Context, identity uint64) (money.Money, error) {
	if l == nil || l.db == nil {
		return money.Money{}, errors.New("ledger: not configured")
	}
	var account models.Account
	if errFind := l.db.WithContext(ctx).Select("id", "balance_minor", "currency").Where("id = ?", identity).Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return money.Money{}, ErrAccountNotFound
		}
		return money.Money{}, errFind
	}
	return balanceOf(account)
}

// explainMiss turns a conditional UPDATE that matched nothing into an error, or nil when
// the balance was merely insufficient.
func explainMiss(tx *gorm.DB, identity uint64, amount money.Money) error {
	var account models.Account
	if errFind := tx.Select("id", "currency").Where("id = ?", identity).Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return errFind
	}
	if account.Currency != amount.Currency().Code {
		return fmt.Errorf("%w: balance in %s, amount in %s", money.ErrCurrencyMismatch, account.Currency, amount.Currency().Code)
	}
	return nil
}

func journal(tx *gorm.DB, identity uint64, kind models.BalanceTransactionKind, amount money.Money, reference string) error {
	var after models.Account
	if errFind := tx.Select("id", "balance_minor").Where("id = ?", identity).Take(&after).Error; errFind != nil {
		return errFind
	}
	row := models.BalanceTransaction{
		UserID:            identity,
		Kind:              kind,
		AmountMinor:       amount.Amount(),
		BalanceAfterMinor: after.BalanceMinor,
		Currency:          amount.Currency().Code,
		Reference:         strings.TrimSpace(reference),
	}
	return tx.Create(&row).Error
}

func balanceOf(account models.Account) (money.Money, error) {
	cur, errCur := money.LookupCurrency(account.Currency)
	if errCur != nil {
		return money.Money{}, errCur
	}
	return money.FromMinor(account.BalanceMinor, cur)
}
