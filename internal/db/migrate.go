package db

import (
	"fmt"

	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Account{},
		&models.UsageRecord{},
		&models.BalanceTransaction{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if IsSQLite(conn) {
		return nil
	}
	return migratePostgres(conn)
}

// migratePostgres applies PostgreSQL-only constraints.
func migratePostgres(conn *gorm.DB) error {
	if errCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'accounts_balance_non_negative'
			) THEN
				ALTER TABLE accounts
				ADD CONSTRAINT accounts_balance_non_negative CHECK (balance_minor >= 0);
			END IF;
		END $$;
	`).Error; errCheck != nil {
		return fmt.Errorf("db: add balance constraint: %w", errCheck)
	}
	if errCostIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_usage_records_user_created
		ON usage_records (user_id, created_at)
	`).Error; errCostIdx != nil {
		return fmt.Errorf("db: create usage cost index: %w", errCostIdx)
	}
	return nil
}
