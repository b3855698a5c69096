package usage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/Michaelasereo/mylinnk-sub001/internal/db"
	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "usage.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *captureNotifier) Notify(_ context.Context, alert Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
}

func TestRecorder_RecordDefaults(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	recorder := NewRecorder(conn, nil, func() time.Time { return now })

	recorder.Record(context.Background(), models.UsageRecord{
		UserID:    1,
		Type:      models.UsageTypeUpload,
		Provider:  " s3 ",
		Amount:    0.5,
		CostMinor: 12,
	})

	var rows []models.UsageRecord
	if errFind := conn.Find(&rows).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Provider != "s3" || row.CostCurrency != "USD" || string(row.Metadata) != "{}" {
		t.Fatalf("unexpected defaults: %+v", row)
	}
	if !row.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, row.CreatedAt)
	}
}

func TestRecorder_RecordNeverPanicsOnStorageFailure(t *testing.T) {
	conn := openTestDB(t)
	sqlDB, _ := conn.DB()
	_ = sqlDB.Close()

	recorder := NewRecorder(conn, NewAlerter(DefaultThresholds(), nil), nil)
	recorder.Record(context.Background(), models.UsageRecord{UserID: 1, Type: models.UsageTypeUpload, CostMinor: 5000})

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), models.UsageRecord{UserID: 1})
}

func TestRecorder_Aggregates(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	recorder := NewRecorder(conn, nil, func() time.Time { return now })

	lastMonth := time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)
	records := []models.UsageRecord{
		{UserID: 1, Type: models.UsageTypeUpload, Amount: 2, CostMinor: 100, CreatedAt: lastMonth},
		{UserID: 1, Type: models.UsageTypeUpload, Amount: 1.5, CostMinor: 40, CreatedAt: now.Add(-48 * time.Hour)},
		{UserID: 1, Type: models.UsageTypeStorage, Amount: 0.5, CostMinor: 10, CreatedAt: now.Add(-time.Hour)},
		{UserID: 1, Type: models.UsageTypeBandwidth, Amount: 3, CostMinor: 25, CreatedAt: now.Add(-time.Hour)},
		{UserID: 2, Type: models.UsageTypeUpload, Amount: 9, CostMinor: 999, CreatedAt: now},
	}
	for _, record := range records {
		recorder.Record(ctx, record)
	}

	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	storage, errSum := recorder.SumAmountSince(ctx, 1, []models.UsageType{models.UsageTypeUpload, models.UsageTypeStorage}, monthStart)
	if errSum != nil {
		t.Fatalf("sum: %v", errSum)
	}
	if storage != 2 {
		t.Fatalf("expected 2 GB this month, got %v", storage)
	}
	uploads, errCount := recorder.CountSince(ctx, 1, models.UsageTypeUpload, monthStart)
	if errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if uploads != 1 {
		t.Fatalf("expected 1 upload this month, got %d", uploads)
	}

	summary, errSummary := recorder.Summary(ctx, 1, money.USD, now)
	if errSummary != nil {
		t.Fatalf("summary: %v", errSummary)
	}
	if summary.Today.Amount() != 35 || summary.Month.Amount() != 75 {
		t.Fatalf("expected today 35 and month 75, got %v / %v", summary.Today, summary.Month)
	}
	if summary.Amounts[models.UsageTypeBandwidth] != 3 || summary.Uploads != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !summary.ResetDate.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reset date %v", summary.ResetDate)
	}
}

func TestRecorder_AlertsOnThresholdCrossing(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	notifier := &captureNotifier{}
	recorder := NewRecorder(conn, NewAlerter(DefaultThresholds(), notifier), nil)

	early := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	recorder.Record(ctx, models.UsageRecord{UserID: 4, Type: models.UsageTypeUpload, CostMinor: 4500, CreatedAt: early})
	recorder.Record(ctx, models.UsageRecord{UserID: 4, Type: models.UsageTypeUpload, CostMinor: 600, CreatedAt: now})
	recorder.Record(ctx, models.UsageRecord{UserID: 4, Type: models.UsageTypeUpload, CostMinor: 500, CreatedAt: now.Add(time.Minute)})
	recorder.Record(ctx, models.UsageRecord{UserID: 4, Type: models.UsageTypeUpload, CostMinor: 100, CreatedAt: now.Add(2 * time.Minute)})

	want := []string{WindowDaily, WindowMonthly, WindowDaily}
	if len(notifier.alerts) != len(want) {
		t.Fatalf("expected %d alerts, got %+v", len(want), notifier.alerts)
	}
	for i, w := range want {
		if notifier.alerts[i].Window != w {
			t.Fatalf("alert %d: expected %s, got %s", i, w, notifier.alerts[i].Window)
		}
	}
	if notifier.alerts[1].Spent.Amount() != 5100 {
		t.Fatalf("expected monthly spend 5100, got %d", notifier.alerts[1].Spent.Amount())
	}
}
