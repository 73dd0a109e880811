// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the privybridge configuration.
//
// All options can be provided via a config file (viper) or environment
// variables with the PRIVYBRIDGE_ prefix, e.g. PRIVYBRIDGE_ISSUER_URL.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/latticehq/privybridge/pkg/logger"
)

// Storage driver names recognized by storage.New.
const (
	StorageDriverMemory  = "memory"
	StorageDriverDurable = "durable"
)

// Hard caps that configuration cannot exceed.
const (
	MaxConnectionsCap  = 50
	PaginationLimitCap = 100
)

// Config is the fully resolved privybridge configuration.
type Config struct {
	// Host and Port define the listen address of the HTTP server.
	Host string
	Port int

	// BasePath is the URL prefix all endpoints are mounted under.
	BasePath string

	// DevMode relaxes the HTTPS requirement for client redirect URIs.
	DevMode bool

	// IssuerURL is the canonical issuer used in JWT "iss"/"aud" and discovery.
	IssuerURL string

	// StorageDriver selects the repository implementation: memory or durable.
	StorageDriver string

	// DatabaseURL is the connection string for the durable driver.
	DatabaseURL string

	// SigningPrivateKey and SigningPublicKey are PEM-encoded RSA keys for
	// JWT signing and JWKS publication. The public key is derived from the
	// private key when omitted.
	SigningPrivateKey string
	SigningPublicKey  string

	// Token lifetimes.
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AuthorizationCodeTTL time.Duration

	// CleanupInterval is how often expired records are purged.
	CleanupInterval time.Duration

	// Scope and client bootstrap policy.
	SupportedScopes     []string
	DefaultScopes       []string
	AllowedClientIDs    []string
	AllowedRedirectURIs []string

	Upstream  UpstreamConfig
	Polling   PollingConfig
	Synthesis SynthesisConfig
	Limits    LimitsConfig
}

// UpstreamConfig configures the Privy upstream API client.
type UpstreamConfig struct {
	// APIURL is the base URL of the upstream Privy API.
	APIURL string

	// Timeout applies to every upstream data call.
	Timeout time.Duration

	// TokenExchangeTimeout applies to the credential-exchange call.
	TokenExchangeTimeout time.Duration
}

// PollingConfig bounds the accumulate-and-stabilize polling loop.
type PollingConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	DelayStep       time.Duration
	StableThreshold int
	MaxTotalWait    time.Duration
}

// SynthesisConfig bounds the per-candidate synthesis worker pool.
type SynthesisConfig struct {
	DefaultConcurrency int
	MaxConcurrency     int
	Throttle           time.Duration
}

// LimitsConfig caps request-shaping inputs.
type LimitsConfig struct {
	InstructionCharLimit int
	SectionCharLimit     int
	MaxConnections       int
	PaginationLimit      int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8090)
	v.SetDefault("base_path", "/")
	v.SetDefault("dev_mode", false)
	v.SetDefault("storage_driver", StorageDriverMemory)
	v.SetDefault("access_token_ttl_seconds", 3600)
	v.SetDefault("refresh_token_ttl_seconds", 2592000) // 30 days
	v.SetDefault("authorization_code_ttl_seconds", 30)
	v.SetDefault("cleanup_interval_seconds", 300)
	v.SetDefault("supported_scopes", []string{"read", "privy:token:exchange"})
	v.SetDefault("default_scopes", []string{"read", "privy:token:exchange"})
	v.SetDefault("upstream_api_timeout_ms", 60000)
	v.SetDefault("upstream_token_exchange_timeout_ms", 10000)
	v.SetDefault("max_attempts", 8)
	v.SetDefault("base_delay_ms", 300)
	v.SetDefault("delay_step_ms", 200)
	v.SetDefault("stable_threshold", 2)
	v.SetDefault("max_total_wait_ms", 5000)
	v.SetDefault("default_concurrency", 2)
	v.SetDefault("max_concurrency", 5)
	v.SetDefault("throttle_ms", 75)
	v.SetDefault("instruction_char_limit", 4000)
	v.SetDefault("section_char_limit", 1200)
	v.SetDefault("max_connections", 10)
	v.SetDefault("pagination_limit", 100)
}

// Load reads configuration from the environment and the optional config file
// path, applies defaults, and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PRIVYBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Host:                 v.GetString("host"),
		Port:                 v.GetInt("port"),
		BasePath:             v.GetString("base_path"),
		DevMode:              v.GetBool("dev_mode"),
		IssuerURL:            strings.TrimSuffix(v.GetString("issuer_url"), "/"),
		StorageDriver:        v.GetString("storage_driver"),
		DatabaseURL:          v.GetString("database_url"),
		SigningPrivateKey:    v.GetString("signing_private_key"),
		SigningPublicKey:     v.GetString("signing_public_key"),
		AccessTokenTTL:       time.Duration(v.GetInt("access_token_ttl_seconds")) * time.Second,
		RefreshTokenTTL:      time.Duration(v.GetInt("refresh_token_ttl_seconds")) * time.Second,
		AuthorizationCodeTTL: time.Duration(v.GetInt("authorization_code_ttl_seconds")) * time.Second,
		CleanupInterval:      time.Duration(v.GetInt("cleanup_interval_seconds")) * time.Second,
		SupportedScopes:      v.GetStringSlice("supported_scopes"),
		DefaultScopes:        v.GetStringSlice("default_scopes"),
		AllowedClientIDs:     v.GetStringSlice("allowed_client_ids"),
		AllowedRedirectURIs:  v.GetStringSlice("allowed_redirect_uris"),
		Upstream: UpstreamConfig{
			APIURL:               strings.TrimSuffix(v.GetString("upstream_api_url"), "/"),
			Timeout:              time.Duration(v.GetInt("upstream_api_timeout_ms")) * time.Millisecond,
			TokenExchangeTimeout: time.Duration(v.GetInt("upstream_token_exchange_timeout_ms")) * time.Millisecond,
		},
		Polling: PollingConfig{
			MaxAttempts:     v.GetInt("max_attempts"),
			BaseDelay:       time.Duration(v.GetInt("base_delay_ms")) * time.Millisecond,
			DelayStep:       time.Duration(v.GetInt("delay_step_ms")) * time.Millisecond,
			StableThreshold: v.GetInt("stable_threshold"),
			MaxTotalWait:    time.Duration(v.GetInt("max_total_wait_ms")) * time.Millisecond,
		},
		Synthesis: SynthesisConfig{
			DefaultConcurrency: v.GetInt("default_concurrency"),
			MaxConcurrency:     v.GetInt("max_concurrency"),
			Throttle:           time.Duration(v.GetInt("throttle_ms")) * time.Millisecond,
		},
		Limits: LimitsConfig{
			InstructionCharLimit: v.GetInt("instruction_char_limit"),
			SectionCharLimit:     v.GetInt("section_char_limit"),
			MaxConnections:       v.GetInt("max_connections"),
			PaginationLimit:      v.GetInt("pagination_limit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants and applies the documented fallbacks.
func (c *Config) Validate() error {
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	u, err := url.Parse(c.IssuerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("issuer_url must be an absolute URL, got %q", c.IssuerURL)
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverDurable:
		if c.DatabaseURL == "" {
			logger.Warnw("durable storage selected without database_url, falling back to memory")
			c.StorageDriver = StorageDriverMemory
		}
	default:
		return fmt.Errorf("unknown storage_driver %q", c.StorageDriver)
	}

	if c.Limits.MaxConnections <= 0 || c.Limits.MaxConnections > MaxConnectionsCap {
		return fmt.Errorf("max_connections must be in [1, %d], got %d", MaxConnectionsCap, c.Limits.MaxConnections)
	}
	if c.Limits.PaginationLimit <= 0 || c.Limits.PaginationLimit > PaginationLimitCap {
		return fmt.Errorf("pagination_limit must be in [1, %d], got %d", PaginationLimitCap, c.Limits.PaginationLimit)
	}
	if c.Synthesis.DefaultConcurrency <= 0 || c.Synthesis.MaxConcurrency <= 0 {
		return fmt.Errorf("synthesis concurrency must be positive")
	}
	if c.Polling.MaxAttempts <= 0 || c.Polling.StableThreshold <= 0 {
		return fmt.Errorf("polling max_attempts and stable_threshold must be positive")
	}
	if len(c.SupportedScopes) == 0 {
		return fmt.Errorf("supported_scopes must not be empty")
	}
	for _, s := range c.DefaultScopes {
		if !contains(c.SupportedScopes, s) {
			return fmt.Errorf("default scope %q is not in supported_scopes", s)
		}
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
