package ratelimit

import (
	"strings"
	"time"

	internalsettings "github.com/Michaelasereo/mylinnk-sub001/internal/settings"
)

// SettingsConfig captures rate limit backend settings and limiter classes.
type SettingsConfig struct {
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Classes       map[string]Rule
}

// DefaultClasses returns the stock limiter classes.
func DefaultClasses() map[string]Rule {
	return map[string]Rule{
		internalsettings.LimiterClassUpload: {Window: time.Hour, MaxRequests: 20},
		internalsettings.LimiterClassAuth:   {Window: 15 * time.Minute, MaxRequests: 5},
		internalsettings.LimiterClassAPI:    {Window: time.Minute, MaxRequests: 100},
	}
}

// DefaultSettingsConfig returns memory-only settings with the stock classes.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
		Classes:     DefaultClasses(),
	}
}

// Normalize trims values and fills defaults.
func (c SettingsConfig) Normalize() SettingsConfig {
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.RedisPassword = strings.TrimSpace(c.RedisPassword)
	c.RedisPrefix = strings.TrimSpace(c.RedisPrefix)
	if c.RedisPrefix == "" {
		c.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
	classes := DefaultClasses()
	for name, rule := range c.Classes {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		classes[name] = rule
	}
	c.Classes = classes
	return c
}

// Rule returns the rule configured for class.
func (c SettingsConfig) Rule(class string) (Rule, bool) {
	rule, ok := c.Classes[strings.TrimSpace(class)]
	return rule, ok
}
