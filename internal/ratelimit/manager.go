package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisConfig struct {
	addr     string
	password string
	prefix   string
	db       int
}

// Manager selects a limiter backend and enforces rate limits per limiter class.
//
// Redis is preferred when enabled; on any Redis failure the manager trips a breaker and
// serves from memory. Errors that escape both backends fail open.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memoryLimiter  *MemoryLimiter
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisLimiter   *RedisLimiter
	redisClient    *redis.Client
	redisCfg       redisConfig
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = DefaultSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memoryLimiter:  NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Memory exposes the in-process fallback limiter.
func (m *Manager) Memory() *MemoryLimiter {
	if m == nil {
		return nil
	}
	return m.memoryLimiter
}

// Check records a request for identity under class and reports whether it is allowed.
// It never blocks a request because of its own failures.
func (m *Manager) Check(ctx context.Context, identity, class string) (result Result) {
	if m == nil {
		return Result{Allowed: true, FailedOpen: true}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := m.provider().Normalize()
	rule, ok := cfg.Rule(class)
	if !ok {
		log.WithField("class", class).Warn("rate limit: unknown limiter class, allowing")
		return Result{Allowed: true, FailedOpen: true}
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithField("panic", recovered).Error("rate limit: check panicked, allowing")
			result = allowAll(rule)
			result.FailedOpen = true
		}
	}()

	key := KeyFor(class, identity)
	if key == "" || !rule.Enabled() {
		return allowAll(rule)
	}
	now := m.nowFn()

	if cfg.RedisEnabled {
		if res, okRedis := m.allowRedis(ctx, key, rule, now, cfg); okRedis {
			return res
		}
	}
	res, errAllow := m.memoryLimiter.Allow(ctx, key, rule, now)
	if errAllow != nil {
		log.WithError(errAllow).Warn("rate limit: memory check failed, allowing")
		res = allowAll(rule)
		res.FailedOpen = true
	}
	return res
}

func (m *Manager) allowRedis(ctx context.Context, key string, rule Rule, now time.Time, cfg SettingsConfig) (Result, bool) {
	if m.isBreakerActive(now) {
		return Result{}, false
	}
	limiter, errEnsure := m.ensureRedis(ctx, cfg)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return Result{}, false
	}
	result, errAllow := limiter.Allow(ctx, key, rule, now)
	if errAllow != nil {
		m.tripBreaker(errAllow, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}

// BreakerActive reports whether Redis is currently bypassed.
func (m *Manager) BreakerActive() bool {
	if m == nil {
		return false
	}
	return m.isBreakerActive(m.nowFn())
}

func (m *Manager) ensureRedis(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	nextCfg := redisConfig{
		addr:     addr,
		password: cfg.RedisPassword,
		prefix:   cfg.RedisPrefix,
		db:       cfg.RedisDB,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisLimiter != nil && m.redisCfg == nextCfg {
		return m.redisLimiter, nil
	}
	if m.redisClient != nil {
		_ = m.redisClient.Close()
		m.redisClient = nil
		m.redisLimiter = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     nextCfg.addr,
		Password: nextCfg.password,
		DB:       nextCfg.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rate limit redis: ping: %w", errPing)
	}
	m.redisClient = client
	m.redisLimiter = NewRedisLimiter(client, nextCfg.prefix)
	m.redisCfg = nextCfg
	return m.redisLimiter, nil
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisClient == nil {
		return nil
	}
	err := m.redisClient.Close()
	m.redisClient = nil
	m.redisLimiter = nil
	return err
}
