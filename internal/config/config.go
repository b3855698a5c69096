package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
	internalsettings "github.com/Michaelasereo/mylinnk-sub001/internal/settings"
	"github.com/Michaelasereo/mylinnk-sub001/internal/usage"
	"github.com/Michaelasereo/mylinnk-sub001/internal/validation"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvJWTSecret     = "JWT_SECRET"
	EnvLogLevel      = "LOG_LEVEL"
	EnvAWSRegion     = "AWS_REGION"
	EnvAWSBucketName = "AWS_BUCKET_NAME"
)

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file or environment.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file, or DB_CONNECTION)")

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Config is the resolved application configuration.
type Config struct {
	ConfigPath string `yaml:"-"`

	DatabaseDSN string         `yaml:"database-dsn"`
	Database    DatabaseConfig `yaml:"database"`
	Server      ServerConfig   `yaml:"server"`
	LogLevel    string         `yaml:"log-level"`
	JWT         JWTConfig      `yaml:"jwt"`

	RateLimit  RateLimitConfig       `yaml:"rate-limit"`
	Validation validation.Config     `yaml:"validation"`
	Plans      map[string]PlanConfig `yaml:"plans"`
	Billing    BillingConfig         `yaml:"billing"`
	Providers  ProvidersConfig       `yaml:"providers"`
	Accounts   []AccountSeed         `yaml:"accounts"`
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// RequestTimeout bounds one upload pipeline run; zero disables it.
	RequestTimeout  time.Duration `yaml:"request-timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
	// MaxUploadBytes caps multipart bodies before they reach validation.
	MaxUploadBytes int64 `yaml:"max-upload-bytes"`
}

// JWTConfig holds the bearer verification secret.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig holds rate limiter backend settings and classes.
type RateLimitConfig struct {
	Redis         RedisConfig           `yaml:"redis"`
	SweepInterval time.Duration         `yaml:"sweep-interval"`
	Classes       map[string]RuleConfig `yaml:"classes"`
}

// RedisConfig holds the shared counter store settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RuleConfig is one limiter class.
type RuleConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max-requests"`
}

// PlanConfig overrides the limits of one tier. Negative quotas mean unlimited.
type PlanConfig struct {
	StorageGB   *float64                     `yaml:"storage-gb"`
	BandwidthGB *float64                     `yaml:"bandwidth-gb"`
	Uploads     *float64                     `yaml:"uploads"`
	MaxBytes    map[media.ContentClass]int64 `yaml:"max-bytes"`
}

// BillingConfig holds the estimate assumptions and alert thresholds. Monetary values
// are decimal strings in major units.
type BillingConfig struct {
	Currency       string `yaml:"currency"`
	RetentionDays  int64  `yaml:"retention-days"`
	ExpectedViews  int64  `yaml:"expected-views"`
	StreamFraction string `yaml:"stream-fraction"`
	BytesPerMinute int64  `yaml:"bytes-per-minute"`
	DailyAlert     string `yaml:"daily-alert"`
	MonthlyAlert   string `yaml:"monthly-alert"`
	// SettleSurplus refunds the part of a reservation above the provider's actual cost.
	SettleSurplus *bool `yaml:"settle-surplus"`
}

// ProvidersConfig holds the gateway settings and the ordered adapters.
type ProvidersConfig struct {
	Failover *bool         `yaml:"failover"`
	Backoff  time.Duration `yaml:"backoff"`
	Timeout  time.Duration `yaml:"timeout"`
	// Adapters are tried in list order for each class they serve.
	Adapters []AdapterConfig `yaml:"adapters"`
}

// AdapterConfig configures one provider adapter.
type AdapterConfig struct {
	Name    string        `yaml:"name"`
	Kind    string        `yaml:"kind"`
	Classes []string      `yaml:"classes"`
	Timeout time.Duration `yaml:"timeout"`
	Rates   RatesConfig   `yaml:"rates"`

	// http
	BaseURL              string `yaml:"base-url"`
	Token                string `yaml:"token"`
	PlaybackURLTemplate  string `yaml:"playback-url-template"`
	ThumbnailURLTemplate string `yaml:"thumbnail-url-template"`

	// s3
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	PublicBaseURL string `yaml:"public-base-url"`
}

// RatesConfig is a provider rate table in major units.
type RatesConfig struct {
	StoragePerGBDay    string `yaml:"storage-per-gb-day"`
	BandwidthPerGB     string `yaml:"bandwidth-per-gb"`
	TranscodePerMinute string `yaml:"transcode-per-minute"`
}

// AccountSeed opens a balance account at startup when it does not exist yet.
type AccountSeed struct {
	ID      uint64 `yaml:"id"`
	Plan    string `yaml:"plan"`
	Balance string `yaml:"balance"`
}

// Default returns the configuration used when the file omits a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            internalsettings.DefaultServerPort,
			RequestTimeout:  10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  512 << 20,
		},
		LogLevel: "info",
		RateLimit: RateLimitConfig{
			Redis:         RedisConfig{Prefix: internalsettings.DefaultRateLimitRedisPrefix},
			SweepInterval: time.Minute,
		},
		Validation: validation.DefaultConfig(),
		Billing: BillingConfig{
			Currency:     internalsettings.DefaultCurrency,
			DailyAlert:   "10",
			MonthlyAlert: "50",
		},
		Providers: ProvidersConfig{
			Backoff: time.Duration(internalsettings.DefaultProviderBackoffMillis) * time.Millisecond,
			Timeout: 2 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment overrides.
// An empty path falls back to CONFIG_PATH. A missing file is allowed when DB_CONNECTION is set.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg.ConfigPath = ResolveConfigPath(path)

	data, errRead := os.ReadFile(cfg.ConfigPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist) && strings.TrimSpace(os.Getenv(EnvDBConnection)) != "":
		// Environment-only configuration.
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	cfg.applyEnv()
	if cfg.DSN() == "" {
		return Config{}, ErrMissingDatabaseDSN
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		c.RateLimit.Redis.Addr = addr
		c.RateLimit.Redis.Enabled = true
	}
	if password := os.Getenv(EnvRedisPassword); password != "" {
		c.RateLimit.Redis.Password = password
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		c.JWT.Secret = secret
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
	region := strings.TrimSpace(os.Getenv(EnvAWSRegion))
	bucket := strings.TrimSpace(os.Getenv(EnvAWSBucketName))
	for i := range c.Providers.Adapters {
		adapter := &c.Providers.Adapters[i]
		if !strings.EqualFold(adapter.Kind, "s3") {
			continue
		}
		if region != "" && adapter.Region == "" {
			adapter.Region = region
		}
		if bucket != "" && adapter.Bucket == "" {
			adapter.Bucket = bucket
		}
	}
}

// DSN returns the database DSN; `database.dsn` wins over the flat `database-dsn`.
func (c Config) DSN() string {
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(c.DatabaseDSN)
}

// Currency returns the balance currency.
func (c Config) Currency() (money.Currency, error) {
	code := strings.TrimSpace(c.Billing.Currency)
	if code == "" {
		code = internalsettings.DefaultCurrency
	}
	return money.LookupCurrency(code)
}

// RateLimitSettings converts the rate limit section.
func (c Config) RateLimitSettings() ratelimit.SettingsConfig {
	classes := make(map[string]ratelimit.Rule, len(c.RateLimit.Classes))
	for name, rule := range c.RateLimit.Classes {
		classes[name] = ratelimit.Rule{Window: rule.Window, MaxRequests: rule.MaxRequests}
	}
	return ratelimit.SettingsConfig{
		RedisEnabled:  c.RateLimit.Redis.Enabled && strings.TrimSpace(c.RateLimit.Redis.Addr) != "",
		RedisAddr:     c.RateLimit.Redis.Addr,
		RedisPassword: c.RateLimit.Redis.Password,
		RedisDB:       c.RateLimit.Redis.DB,
		RedisPrefix:   c.RateLimit.Redis.Prefix,
		Classes:       classes,
	}.Normalize()
}

// PlanTable merges the plan overrides into the default table.
func (c Config) PlanTable() (plans.Table, error) {
	table := plans.DefaultTable()
	for name, override := range c.Plans {
		tier, errTier := plans.ParseTier(name)
		if errTier != nil {
			return nil, errTier
		}
		limits := table[tier]
		if override.StorageGB != nil {
			limits.StorageGB = quotaValue(*override.StorageGB)
		}
		if override.BandwidthGB != nil {
			limits.BandwidthGB = quotaValue(*override.BandwidthGB)
		}
		if override.Uploads != nil {
			limits.Uploads = quotaValue(*override.Uploads)
		}
		if len(override.MaxBytes) > 0 {
			merged := make(map[media.ContentClass]int64, len(limits.MaxBytes))
			for class, n := range limits.MaxBytes {
				merged[class] = n
			}
			for class, n := range override.MaxBytes {
				merged[class] = n
			}
			limits.MaxBytes = merged
		}
		table[tier] = limits
	}
	return table, nil
}

func quotaValue(v float64) float64 {
	if v < 0 {
		return plans.Unlimited
	}
	return v
}

// BillingParams converts the estimate assumptions.
func (c Config) BillingParams() (billing.Params, error) {
	params := billing.Params{
		RetentionDays:  c.Billing.RetentionDays,
		ExpectedViews:  c.Billing.ExpectedViews,
		BytesPerMinute: c.Billing.BytesPerMinute,
	}
	if raw := strings.TrimSpace(c.Billing.StreamFraction); raw != "" {
		fraction, errParse := decimal.NewFromString(raw)
		if errParse != nil {
			return billing.Params{}, fmt.Errorf("billing.stream-fraction: %w", errParse)
		}
		params.StreamFraction = fraction
	}
	if c.Billing.ExpectedViews == 0 {
		params.ExpectedViews = billing.DefaultParams().ExpectedViews
	}
	return params, nil
}

// AlertThresholds converts the daily and monthly alert levels.
func (c Config) AlertThresholds() (usage.Thresholds, error) {
	cur, errCur := c.Currency()
	if errCur != nil {
		return usage.Thresholds{}, errCur
	}
	daily, errDaily := parseMoney(c.Billing.DailyAlert, cur)
	if errDaily != nil {
		return usage.Thresholds{}, fmt.Errorf("billing.daily-alert: %w", errDaily)
	}
	monthly, errMonthly := parseMoney(c.Billing.MonthlyAlert, cur)
	if errMonthly != nil {
		return usage.Thresholds{}, fmt.Errorf("billing.monthly-alert: %w", errMonthly)
	}
	return usage.Thresholds{Daily: daily, Monthly: monthly}, nil
}

// SettleSurplus reports whether surplus reservations are refunded; defaults to true.
func (c Config) SettleSurplus() bool {
	return c.Billing.SettleSurplus == nil || *c.Billing.SettleSurplus
}

// Failover reports whether the gateway tries later adapters; defaults to true.
func (c Config) Failover() bool {
	return c.Providers.Failover == nil || *c.Providers.Failover
}

// RateTable converts the adapter rate table into the balance currency.
func (a AdapterConfig) RateTable(cur money.Currency) (billing.Rates, error) {
	rates := billing.Rates{Currency: cur}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"storage-per-gb-day", a.Rates.StoragePerGBDay, &rates.StoragePerGBDay},
		{"bandwidth-per-gb", a.Rates.BandwidthPerGB, &rates.BandwidthPerGB},
		{"transcode-per-minute", a.Rates.TranscodePerMinute, &rates.TranscodePerMinute},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		v, errParse := decimal.NewFromString(raw)
		if errParse != nil {
			return billing.Rates{}, fmt.Errorf("provider %s rates.%s: %w", a.Name, f.name, errParse)
		}
		if v.IsNegative() {
			return billing.Rates{}, fmt.Errorf("provider %s rates.%s: negative rate", a.Name, f.name)
		}
		*f.dst = v
	}
	return rates, nil
}

// ContentClasses parses the classes the adapter serves.
func (a AdapterConfig) ContentClasses() ([]media.ContentClass, error) {
	out := make([]media.ContentClass, 0, len(a.Classes))
	for _, raw := range a.Classes {
		class, errClass := media.ParseContentClass(raw)
		if errClass != nil {
			return nil, fmt.Errorf("provider %s: %w", a.Name, errClass)
		}
		out = append(out, class)
	}
	return out, nil
}

// OpeningBalance parses the seed balance in the given currency.
func (s AccountSeed) OpeningBalance(cur money.Currency) (money.Money, error) {
	return parseMoney(s.Balance, cur)
}

func parseMoney(raw string, cur money.Currency) (money.Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return money.Zero(cur), nil
	}
	return money.ParseMajor(raw, cur)
}
