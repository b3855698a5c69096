package db

import (
	"path/filepath"
	"testing"

	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "ingest-test.db")
	conn, err := Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}

	account := models.Account{ID: 7, Plan: "PRO", BalanceMinor: 100, Currency: "USD"}
	if errCreate := conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}
	var count int64
	if errCount := conn.Model(&models.Account{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 account, got %d", count)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@localhost:5432/db": true,
		"postgresql://localhost/db":        true,
		"host=localhost user=u dbname=db":  true,
		"file:ingest.db":                   false,
		"/var/lib/ingest/ingest.db":        false,
		"file::memory:?cache=shared":       false,
	}
	for dsn, want := range cases {
		if got := isPostgresDSN(dsn); got != want {
			t.Fatalf("isPostgresDSN(%q)=%v want %v", dsn, got, want)
		}
	}
}

func TestWithBusyTimeout(t *testing.T) {
	if got := withBusyTimeout("file:a.db"); got != "file:a.db?_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := withBusyTimeout("file:a.db?cache=shared"); got != "file:a.db?cache=shared&_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn %q", got)
	}
}
