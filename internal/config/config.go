// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration with precedence
// environment > file > defaults.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names recognised by the daemon.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the complete daemon configuration.
type Config struct {
	// Listen is the host:port the HTTP server binds.
	Listen string `yaml:"listen"`

	// Environment selects production hardening ("production") or the relaxed
	// development posture ("development").
	Environment string `yaml:"environment"`

	// LogLevel sets the zerolog level ("debug", "info", ...).
	LogLevel string `yaml:"logLevel"`

	// TokenSecret signs and verifies stream credentials. Required in
	// production unless InsecureIdentity is impossible anyway.
	TokenSecret string `yaml:"tokenSecret"`

	// InsecureIdentity selects the signature-skipping identity resolver.
	// Refused outright in production.
	InsecureIdentity bool `yaml:"insecureIdentity"`

	// OperatorToken guards the operator endpoints (subscribers, emit, stats,
	// metrics). Empty disables them entirely.
	OperatorToken string `yaml:"operatorToken"`

	// AllowedOrigins is the exact-match CORS allow-list. Loopback origins are
	// additionally accepted outside production.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// MaxConnectionsPerOrg is the admission ceiling per organization.
	MaxConnectionsPerOrg int `yaml:"maxConnectionsPerOrg"`

	// HeartbeatInterval is the keep-alive period for stream connections.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// QueueCapacity bounds each subscriber's outbound event queue.
	QueueCapacity int `yaml:"queueCapacity"`

	// RateLimitRPS / RateLimitBurst shape the per-IP limit on operator calls.
	RateLimitRPS   int `yaml:"rateLimitRPS"`
	RateLimitBurst int `yaml:"rateLimitBurst"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Listen:               ":8090",
		Environment:          EnvDevelopment,
		LogLevel:             "info",
		MaxConnectionsPerOrg: 50,
		HeartbeatInterval:    30 * time.Second,
		QueueCapacity:        64,
		RateLimitRPS:         10,
		RateLimitBurst:       20,
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path, then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = ParseString("BEACON_LISTEN", c.Listen)
	c.Environment = ParseString("BEACON_ENV", c.Environment)
	c.LogLevel = ParseString("BEACON_LOG_LEVEL", c.LogLevel)
	c.TokenSecret = ParseString("BEACON_TOKEN_SECRET", c.TokenSecret)
	c.InsecureIdentity = ParseBool("BEACON_INSECURE_IDENTITY", c.InsecureIdentity)
	c.OperatorToken = ParseString("BEACON_OPERATOR_TOKEN", c.OperatorToken)
	c.AllowedOrigins = ParseStringSlice("BEACON_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.MaxConnectionsPerOrg = ParseInt("BEACON_MAX_CONNECTIONS_PER_ORG", c.MaxConnectionsPerOrg)
	c.HeartbeatInterval = ParseDuration("BEACON_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.QueueCapacity = ParseInt("BEACON_QUEUE_CAPACITY", c.QueueCapacity)
	c.RateLimitRPS = ParseInt("BEACON_RATELIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = ParseInt("BEACON_RATELIMIT_BURST", c.RateLimitBurst)
}

// IsProduction reports whether production hardening applies.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Validate rejects configurations the daemon must not start with.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("config: invalid listen address %q: %w", c.Listen, err)
	}
	if c.IsProduction() {
		if c.InsecureIdentity {
			return fmt.Errorf("config: insecure identity resolution is not permitted in production")
		}
		if c.TokenSecret == "" {
			return fmt.Errorf("config: token secret is required in production")
		}
	}
	if !c.InsecureIdentity && c.TokenSecret == "" {
		return fmt.Errorf("config: token secret is required unless insecure identity is enabled")
	}
	if c.MaxConnectionsPerOrg <= 0 {
		return fmt.Errorf("config: max connections per org must be positive, got %d", c.MaxConnectionsPerOrg)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive, got %d", c.QueueCapacity)
	}
	for _, origin := range c.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: invalid allowed origin %q", origin)
		}
	}
	return nil
}
