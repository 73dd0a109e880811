// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRIVYBRIDGE_ISSUER_URL", "https://bridge.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://bridge.example.com", cfg.IssuerURL)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.AuthorizationCodeTTL)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 8, cfg.Polling.MaxAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Polling.BaseDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Polling.DelayStep)
	assert.Equal(t, 2, cfg.Polling.StableThreshold)
	assert.Equal(t, 5*time.Second, cfg.Polling.MaxTotalWait)
	assert.Equal(t, 2, cfg.Synthesis.DefaultConcurrency)
	assert.Equal(t, 5, cfg.Synthesis.MaxConcurrency)
	assert.Equal(t, 75*time.Millisecond, cfg.Synthesis.Throttle)
	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Upstream.TokenExchangeTimeout)
}

func TestLoadRequiresIssuer(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer_url")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "relative issuer",
			mutate:  func(c *Config) { c.IssuerURL = "/oauth" },
			wantErr: "absolute URL",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.StorageDriver = "etcd" },
			wantErr: "unknown storage_driver",
		},
		{
			name:    "max connections over cap",
			mutate:  func(c *Config) { c.Limits.MaxConnections = 51 },
			wantErr: "max_connections",
		},
		{
			name:    "pagination over cap",
			mutate:  func(c *Config) { c.Limits.PaginationLimit = 101 },
			wantErr: "pagination_limit",
		},
		{
			name:    "default scope outside supported",
			mutate:  func(c *Config) { c.DefaultScopes = []string{"admin"} },
			wantErr: "not in supported_scopes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PRIVYBRIDGE_ISSUER_URL", "https://bridge.example.com")
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurableWithoutDatabaseURLFallsBack(t *testing.T) {
	t.Setenv("PRIVYBRIDGE_ISSUER_URL", "https://bridge.example.com")
	t.Setenv("PRIVYBRIDGE_STORAGE_DRIVER", "durable")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
}
