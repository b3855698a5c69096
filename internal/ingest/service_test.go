package ingest

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/db"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/models"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/provider"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
	"github.com/Michaelasereo/mylinnk-sub001/internal/usage"
	"github.com/Michaelasereo/mylinnk-sub001/internal/validation"
)

const mib = 1 << 20

var (
	mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41")
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x10\x00\x00\x00\x10")
)

type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

type harness struct {
	conn     *gorm.DB
	accounts *billing.Accounts
	ledger   *billing.Ledger
	recorder *usage.Recorder
	calls    *calls
	service  *Service
}

func testRates() billing.Rates {
	return billing.Rates{
		Currency:           money.USD,
		StoragePerGBDay:    decimal.RequireFromString("0.0007"),
		BandwidthPerGB:     decimal.RequireFromString("0.08"),
		TranscodePerMinute: decimal.RequireFromString("0.015"),
	}
}

// adapter builds a registration whose behavior is behave; successful uploads are
// metered into the recorder the way real adapters are.
func (h *harness) adapter(name string, timeout time.Duration, behave func(ctx context.Context) error) provider.Registration {
	meter := provider.Meter{
		Provider:  name,
		Rates:     testRates(),
		Estimator: billing.NewEstimator(billing.DefaultParams(), nil),
		Sink:      h.recorder,
	}
	return provider.Registration{
		Name:    name,
		Kind:    provider.KindFunc,
		Timeout: timeout,
		Rates:   testRates(),
		Uploader: provider.UploaderFunc(func(ctx context.Context, req provider.Request) (provider.Result, error) {
			h.calls.add(name)
			if errBehave := behave(ctx); errBehave != nil {
				return provider.Result{}, errBehave
			}
			assetID := name + "-asset"
			cost := meter.Charge(ctx, req, assetID, decimal.Zero)
			return provider.Result{Success: true, AssetID: assetID, URL: "https://cdn.example.com/" + assetID, Cost: cost}, nil
		}),
	}
}

func ok(context.Context) error { return nil }

func down(context.Context) error { return errors.New("backend unavailable") }

func hang(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newHarness(t *testing.T, uploadRule ratelimit.Rule, routes func(h *harness) map[media.ContentClass][]provider.Registration) *harness {
	t.Helper()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "ingest.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	h := &harness{
		conn:     conn,
		accounts: billing.NewAccounts(conn),
		ledger:   billing.NewLedger(conn),
		recorder: usage.NewRecorder(conn, nil, nil),
		calls:    &calls{},
	}
	gateway := provider.NewGateway(provider.Config{Failover: true, Backoff: -1}, routes(h))

	limiterSettings := ratelimit.DefaultSettingsConfig()
	limiterSettings.Classes["upload"] = uploadRule
	limiter := ratelimit.NewManager(func() ratelimit.SettingsConfig { return limiterSettings }, nil, nil)

	table := plans.DefaultTable()
	service, errService := NewService(Deps{
		Limiter:   limiter,
		Validator: validation.NewValidator(validation.DefaultConfig(), table, h.accounts, nil),
		Estimator: billing.NewEstimator(billing.DefaultParams(), gateway.PrimaryRates()),
		Quota:     billing.NewQuotaChecker(table, h.accounts, h.recorder, nil),
		Ledger:    h.ledger,
		Gateway:   gateway,
	}, Options{SettleSurplus: true})
	if errService != nil {
		t.Fatalf("new service: %v", errService)
	}
	h.service = service
	return h
}

func defaultRoutes(h *harness) map[media.ContentClass][]provider.Registration {
	return map[media.ContentClass][]provider.Registration{
		media.ClassVideo: {h.adapter("primary", 50*time.Millisecond, hang), h.adapter("secondary", 0, ok)},
		media.ClassImage: {h.adapter("images", 0, ok)},
	}
}

func (h *harness) open(t *testing.T, identity uint64, tier plans.Tier, balanceMinor int64) {
	t.Helper()
	if errOpen := h.accounts.Open(context.Background(), identity, tier, money.MustFromMinor(balanceMinor, money.USD)); errOpen != nil {
		t.Fatalf("open account: %v", errOpen)
	}
}

func (h *harness) balance(t *testing.T, identity uint64) int64 {
	t.Helper()
	bal, errBalance := h.ledger.Balance(context.Background(), identity)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	return bal.Amount()
}

func (h *harness) usageRows(t *testing.T, identity uint64) []models.UsageRecord {
	t.Helper()
	var rows []models.UsageRecord
	if errFind := h.conn.Where("user_id = ?", identity).Order("id").Find(&rows).Error; errFind != nil {
		t.Fatalf("load usage: %v", errFind)
	}
	return rows
}

func file(name, contentType string, header []byte, size int64) media.File {
	body := append(append([]byte(nil), header...), bytes.Repeat([]byte{0x42}, 256)...)
	return media.File{Name: name, ContentType: contentType, Size: size, Body: bytes.NewReader(body)}
}

func asError(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var ingestErr *Error
	if !errors.As(err, &ingestErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ingestErr.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%s)", kind, ingestErr.Kind, ingestErr.Message)
	}
	return ingestErr
}

func TestUpload_FreePlanStorageQuotaExhausted(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, defaultRoutes)
	h.open(t, 1, plans.Free, 10_000)
	h.recorder.Record(context.Background(), models.UsageRecord{UserID: 1, Type: models.UsageTypeUpload, Provider: "images", Amount: 5})

	_, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 1,
		Class:    media.ClassImage,
		File:     file("photo.png", "image/png", pngHeader, 10_000_000),
	})
	rejected := asError(t, errUpload, KindQuotaExceeded)
	if rejected.QuotaType != plans.QuotaStorage || rejected.Quota == nil || rejected.Quota.Limit != 5 {
		t.Fatalf("unexpected quota detail: %+v", rejected)
	}
	if rejected.Quota.CurrentUsage != 5 || rejected.Quota.ResetDate.IsZero() {
		t.Fatalf("expected usage and reset date, got %+v", rejected.Quota)
	}
	if rejected.HTTPStatus() != 402 {
		t.Fatalf("expected 402, got %d", rejected.HTTPStatus())
	}
	if got := h.calls.list(); len(got) != 0 {
		t.Fatalf("expected no provider calls, got %v", got)
	}
	if h.balance(t, 1) != 10_000 {
		t.Fatalf("expected balance untouched")
	}
}

func TestUpload_FailsOverAfterPrimaryTimeout(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, defaultRoutes)
	h.open(t, 2, plans.Pro, 10_000)

	resp, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 2,
		Class:    media.ClassVideo,
		File:     file("clip.mp4", "video/mp4", mp4Header, 50*mib),
	})
	if errUpload != nil {
		t.Fatalf("upload: %v", errUpload)
	}
	if resp.Provider != "secondary" || resp.AssetID != "secondary-asset" || resp.URL == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := h.calls.list(); len(got) != 2 || got[0] != "primary" || got[1] != "secondary" {
		t.Fatalf("unexpected provider calls: %v", got)
	}
	if resp.Estimate.Total.IsZero() {
		t.Fatalf("expected a priced estimate")
	}

	rows := h.usageRows(t, 2)
	if len(rows) != 1 || rows[0].Provider != "secondary" || rows[0].Type != models.UsageTypeUpload {
		t.Fatalf("expected one usage record tagged secondary, got %+v", rows)
	}
	if rows[0].CostMinor != resp.Charged.Amount() {
		t.Fatalf("usage cost %d differs from charge %d", rows[0].CostMinor, resp.Charged.Amount())
	}
	if got := h.balance(t, 2); got != 10_000-resp.Charged.Amount() {
		t.Fatalf("expected balance %d, got %d", 10_000-resp.Charged.Amount(), got)
	}
	if !resp.RateLimit.Allowed || resp.RateLimit.Remaining != 19 {
		t.Fatalf("unexpected rate limit snapshot: %+v", resp.RateLimit)
	}
}

func TestUpload_RejectsExecutableDisguisedAsVideo(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, defaultRoutes)
	h.open(t, 3, plans.Pro, 10_000)

	_, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 3,
		Class:    media.ClassVideo,
		File:     file("payload.exe", "video/mp4", mp4Header, 1*mib),
	})
	rejected := asError(t, errUpload, KindValidationFailed)
	if rejected.HTTPStatus() != 400 {
		t.Fatalf("expected 400, got %d", rejected.HTTPStatus())
	}
	if len(h.calls.list()) != 0 || len(h.usageRows(t, 3)) != 0 {
		t.Fatalf("expected no side effects")
	}
	if h.balance(t, 3) != 10_000 {
		t.Fatalf("expected balance untouched")
	}
}

func TestUpload_RefundsWhenEveryProviderFails(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, func(h *harness) map[media.ContentClass][]provider.Registration {
		return map[media.ContentClass][]provider.Registration{
			media.ClassVideo: {h.adapter("primary", 0, down), h.adapter("secondary", 0, down)},
		}
	})
	h.open(t, 4, plans.Pro, 10_000)

	_, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 4,
		Class:    media.ClassVideo,
		File:     file("clip.mp4", "video/mp4", mp4Header, 20*mib),
	})
	rejected := asError(t, errUpload, KindProviderExhausted)
	var exhausted *provider.ExhaustedError
	if !errors.As(errUpload, &exhausted) || len(exhausted.Attempts) != 2 {
		t.Fatalf("expected both attempts in the cause, got %v", errUpload)
	}
	if !rejected.Retryable() || rejected.HTTPStatus() != 500 {
		t.Fatalf("unexpected classification: %+v", rejected)
	}
	if h.balance(t, 4) != 10_000 {
		t.Fatalf("expected reservation refunded, balance %d", h.balance(t, 4))
	}
	if len(h.usageRows(t, 4)) != 0 {
		t.Fatalf("expected no usage for a failed upload")
	}

	var journal []models.BalanceTransaction
	if errFind := h.conn.Where("user_id = ?", 4).Order("id").Find(&journal).Error; errFind != nil {
		t.Fatalf("load journal: %v", errFind)
	}
	if len(journal) != 3 || journal[1].Kind != models.BalanceTransactionReserve || journal[2].Kind != models.BalanceTransactionRefund {
		t.Fatalf("expected credit, reserve, refund journal, got %+v", journal)
	}
}

func TestUpload_InsufficientFunds(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, defaultRoutes)
	h.open(t, 5, plans.Pro, 0)

	_, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 5,
		Class:    media.ClassVideo,
		File:     file("clip.mp4", "video/mp4", mp4Header, 50*mib),
	})
	rejected := asError(t, errUpload, KindInsufficientFunds)
	if rejected.Estimate == nil || rejected.Estimate.Total.IsZero() {
		t.Fatalf("expected the estimate on the rejection, got %+v", rejected)
	}
	if len(h.calls.list()) != 0 {
		t.Fatalf("expected no provider calls")
	}
}

func TestUpload_UnknownAccountIsInsufficientFunds(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, defaultRoutes)

	_, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 99,
		Class:    media.ClassImage,
		File:     file("photo.png", "image/png", pngHeader, 1*mib),
	})
	rejected := asError(t, errUpload, KindInsufficientFunds)
	if !errors.Is(errUpload, billing.ErrAccountNotFound) || rejected.Estimate == nil {
		t.Fatalf("expected account-not-found cause, got %v", errUpload)
	}
}

func TestUpload_RateLimited(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 1}, defaultRoutes)
	h.open(t, 6, plans.Pro, 10_000)

	upload := func() error {
		_, errUpload := h.service.Upload(context.Background(), Request{
			Identity: 6,
			Class:    media.ClassImage,
			File:     file("photo.png", "image/png", pngHeader, 1*mib),
		})
		return errUpload
	}
	if errFirst := upload(); errFirst != nil {
		t.Fatalf("first upload: %v", errFirst)
	}
	rejected := asError(t, upload(), KindRateLimited)
	if rejected.RetryAfterSeconds < 1 || rejected.RateLimit == nil || rejected.RateLimit.Remaining != 0 {
		t.Fatalf("unexpected rate limit detail: %+v", rejected)
	}
	if rejected.HTTPStatus() != 429 {
		t.Fatalf("expected 429, got %d", rejected.HTTPStatus())
	}
	if got := h.calls.list(); len(got) != 1 {
		t.Fatalf("expected a single provider call, got %v", got)
	}
}

func TestUpload_RateLimitRunsBeforeClassCheck(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 1}, defaultRoutes)
	h.open(t, 8, plans.Pro, 10_000)

	_, errBad := h.service.Upload(context.Background(), Request{
		Identity: 8,
		Class:    media.ContentClass("audio"),
		File:     file("track.png", "image/png", pngHeader, 1*mib),
	})
	asError(t, errBad, KindValidationFailed)

	_, errNext := h.service.Upload(context.Background(), Request{
		Identity: 8,
		Class:    media.ClassImage,
		File:     file("photo.png", "image/png", pngHeader, 1*mib),
	})
	asError(t, errNext, KindRateLimited)
	if got := h.calls.list(); len(got) != 0 {
		t.Fatalf("expected no provider calls, got %v", got)
	}
}

func TestUpload_RefundsSurplusOverActualCost(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, func(h *harness) map[media.ContentClass][]provider.Registration {
		free := provider.Registration{Name: "free-tier", Rates: testRates(), Uploader: provider.UploaderFunc(func(context.Context, provider.Request) (provider.Result, error) {
			return provider.Result{Success: true, AssetID: "x", Cost: money.MustFromMinor(1, money.USD)}, nil
		})}
		return map[media.ContentClass][]provider.Registration{media.ClassVideo: {free}}
	})
	h.open(t, 7, plans.Pro, 10_000)

	resp, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 7,
		Class:    media.ClassVideo,
		File:     file("clip.mp4", "video/mp4", mp4Header, 100*mib),
	})
	if errUpload != nil {
		t.Fatalf("upload: %v", errUpload)
	}
	if resp.Charged.Amount() != 1 || resp.Estimate.Total.Amount() <= 1 {
		t.Fatalf("expected actual cost charged below the estimate, got %v / %v", resp.Charged, resp.Estimate.Total)
	}
	if got := h.balance(t, 7); got != 9_999 {
		t.Fatalf("expected balance 9999, got %d", got)
	}
}

func TestUpload_RecoversFromPanics(t *testing.T) {
	h := newHarness(t, ratelimit.Rule{Window: time.Hour, MaxRequests: 20}, func(h *harness) map[media.ContentClass][]provider.Registration {
		boom := provider.Registration{Name: "boom", Rates: testRates(), Uploader: provider.UploaderFunc(func(context.Context, provider.Request) (provider.Result, error) {
			panic("adapter bug")
		})}
		return map[media.ContentClass][]provider.Registration{media.ClassVideo: {boom}}
	})
	h.open(t, 8, plans.Pro, 10_000)

	_, errUpload := h.service.Upload(context.Background(), Request{
		Identity: 8,
		Class:    media.ClassVideo,
		File:     file("clip.mp4", "video/mp4", mp4Header, 10*mib),
	})
	asError(t, errUpload, KindInternal)
	if h.balance(t, 8) != 10_000 {
		t.Fatalf("expected reservation released after panic")
	}
}

func TestNewService_RequiresEveryStage(t *testing.T) {
	if _, errService := NewService(Deps{}, Options{}); errService == nil {
		t.Fatalf("expected error for missing stages")
	}
}
