// Package config provides configuration types for Relayguard.
//
// The schema is file-based and intentionally small: a listener, an upstream,
// one store backend, static tokens, the rate-limit dispatch tables, optional
// CEL rules, and the cache category tables. Durations are YAML strings
// ("30s", "5m") parsed at startup.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for Relayguard.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the JSON API backend requests are proxied to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Store selects the backing store for rate limiting and caching.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Auth configures the static bearer tokens.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// RateLimit configures admission policies and the sweep cycle.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Rules are operator-defined CEL conditions consulted before the
	// static tables. Evaluated in order; first match wins.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// Cache configures response caching per path prefix.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// DevMode enables development features (verbose logging, a dev token).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// TLS is out of scope; terminate it at a reverse proxy in front.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AdminRole is the role required for /admin endpoints.
	// Defaults to "admin".
	AdminRole string `yaml:"admin_role" mapstructure:"admin_role"`
}

// UpstreamConfig configures the upstream API backend.
type UpstreamConfig struct {
	// URL is the base URL of the backend (e.g., "http://localhost:3000").
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// Timeout bounds how long the proxy waits for upstream response headers.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// StoreConfig selects the store backend shared by limiting and caching.
type StoreConfig struct {
	// Backend is "memory" or "redis". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis"`

	// Redis configures the Redis connection. Only used when Backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the Redis connection for the redis backend.
type RedisConfig struct {
	// Addr is the Redis server address. Defaults to "127.0.0.1:6379".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Password is the Redis AUTH password. Empty for no auth.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0"`
}

// AuthConfig configures static bearer tokens.
type AuthConfig struct {
	// Tokens defines the known tokens and the principals they resolve to.
	// Optional: when empty, every request is anonymous and lands on the
	// default policy.
	Tokens []TokenConfig `yaml:"tokens" mapstructure:"tokens" validate:"omitempty,dive"`
}

// TokenConfig binds a stored token hash to a principal.
type TokenConfig struct {
	// Hash is the stored token hash: "sha256:<hex>" or Argon2id PHC format.
	// Generate with: relayguard hash-token <token>
	Hash string `yaml:"hash" mapstructure:"hash" validate:"required,token_hash"`

	// ID is the principal this token authenticates as.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Roles are the principal's roles (used for quota escalation).
	Roles []string `yaml:"roles" mapstructure:"roles"`
}

// PolicyConfig is a {quota, window} pair.
type PolicyConfig struct {
	// Quota is the maximum number of requests inside the window.
	Quota int `yaml:"quota" mapstructure:"quota" validate:"required,min=1"`

	// Window is the trailing duration the quota applies to (e.g., "1m").
	Window string `yaml:"window" mapstructure:"window" validate:"required,duration"`
}

// OverrideConfig is a path-prefix policy consulted before the role table.
type OverrideConfig struct {
	// PathPrefix is the path prefix this policy applies to (e.g., "/api/search").
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,path_prefix"`

	// Quota is the maximum number of requests inside the window.
	Quota int `yaml:"quota" mapstructure:"quota" validate:"required,min=1"`

	// Window is the trailing duration (e.g., "30s").
	Window string `yaml:"window" mapstructure:"window" validate:"required,duration"`
}

// RateLimitConfig configures admission policies and the sweep cycle.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Default is the conservative policy for anonymous requests and
	// principals with no recognized role. Defaults to 60 per "1m".
	Default PolicyConfig `yaml:"default" mapstructure:"default"`

	// Roles maps a role name to its escalated policy.
	Roles map[string]PolicyConfig `yaml:"roles" mapstructure:"roles" validate:"omitempty,dive"`

	// Overrides are path-prefix policies. Longest matching prefix wins.
	Overrides []OverrideConfig `yaml:"overrides" mapstructure:"overrides" validate:"omitempty,dive"`

	// SweepInterval is how often idle keys are swept (e.g., "5m").
	// Defaults to "5m".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty,duration"`

	// StaleAfter is how long a key must be idle before the sweep removes
	// it (e.g., "1h"). Defaults to "1h".
	StaleAfter string `yaml:"stale_after" mapstructure:"stale_after" validate:"omitempty,duration"`
}

// RuleConfig defines a CEL rule selecting a dedicated policy.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Condition is a CEL expression over the request variables
	// (method, path, principal_id, principal_roles, authenticated, client_addr).
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Quota is the maximum number of requests inside the window.
	Quota int `yaml:"quota" mapstructure:"quota" validate:"required,min=1"`

	// Window is the trailing duration (e.g., "10s").
	Window string `yaml:"window" mapstructure:"window" validate:"required,duration"`
}

// CategoryConfig assigns a cache TTL to a path prefix.
type CategoryConfig struct {
	// PathPrefix is the path prefix this category applies to.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,path_prefix"`

	// TTL is the entry lifetime (e.g., "30s"). Required unless NoCache.
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`

	// NoCache bypasses the cache entirely for this prefix (live data).
	NoCache bool `yaml:"no_cache" mapstructure:"no_cache"`
}

// InvalidationConfig declares cache patterns affected by writes to a prefix.
type InvalidationConfig struct {
	// PathPrefix is the path prefix of the mutating endpoint.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,path_prefix"`

	// Patterns are substrings removed from the cache after a successful
	// write under PathPrefix.
	Patterns []string `yaml:"patterns" mapstructure:"patterns" validate:"required,min=1"`
}

// CacheConfig configures response caching.
type CacheConfig struct {
	// Enabled turns response caching on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Categories assign TTLs per path prefix. A path matching no category
	// is never cached.
	Categories []CategoryConfig `yaml:"categories" mapstructure:"categories" validate:"omitempty,dive"`

	// Invalidations declare which cached families a write affects.
	Invalidations []InvalidationConfig `yaml:"invalidations" mapstructure:"invalidations" validate:"omitempty,dive"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// Provide a default dev token if none configured.
	// SHA-256 of "dev-token".
	if len(c.Auth.Tokens) == 0 {
		c.Auth.Tokens = []TokenConfig{
			{
				Hash:  "sha256:c91cbbedf8c712e8e2b7517ddeca8fe4fde839ebd8339e0b2001363002b37712",
				ID:    "dev-user",
				Roles: []string{"admin"},
			},
		}
	}

	// A generous admin policy so the dev token never trips the limiter.
	if _, ok := c.RateLimit.Roles["admin"]; !ok {
		if c.RateLimit.Roles == nil {
			c.RateLimit.Roles = make(map[string]PolicyConfig)
		}
		c.RateLimit.Roles["admin"] = PolicyConfig{Quota: 10000, Window: "1m"}
	}

	if c.Server.LogLevel == "" || c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only.
	// Users who need network access must explicitly set http_addr ":8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.AdminRole == "" {
		c.Server.AdminRole = "admin"
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}

	// Rate limit defaults — enabled by default, conservative quota.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.Default.Quota == 0 {
		c.RateLimit.Default.Quota = 60
	}
	if c.RateLimit.Default.Window == "" {
		c.RateLimit.Default.Window = "1m"
	}
	if c.RateLimit.SweepInterval == "" {
		c.RateLimit.SweepInterval = "5m"
	}
	if c.RateLimit.StaleAfter == "" {
		c.RateLimit.StaleAfter = "1h"
	}

	// Cache defaults — enabled by default.
	if !viper.IsSet("cache.enabled") {
		c.Cache.Enabled = true
	}
}
