package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election_engine/pkg/utils"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := []byte(strings.Join([]string{
		"environment: production",
		"database:",
		"  url: postgres://app:secret@db:5432/elections",
		"  max_conns: 20",
		"ledger:",
		"  rpc_url: http://chain:8545",
		"  call_timeout: 5s",
		"scheduler:",
		"  phase_interval: 1m",
		"  backstop_interval: 30m",
		"  audit_interval: 10m",
		"events:",
		"  nats_url: nats://bus:4222",
		"log:",
		"  level: debug",
	}, "\n"))

	err := os.WriteFile(configPath, configContent, 0644)
	require.NoError(t, err)

	t.Run("LoadValidConfig", func(t *testing.T) {
		cfg, err := Load(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, "postgres://app:secret@db:5432/elections", cfg.Database.URL)
		assert.Equal(t, 20, cfg.Database.MaxConns)
		assert.Equal(t, "http://chain:8545", cfg.Ledger.RPCURL)
		assert.Equal(t, 5*time.Second, cfg.Ledger.CallTimeout)
		assert.Equal(t, time.Minute, cfg.Scheduler.PhaseInterval)
		assert.Equal(t, 30*time.Minute, cfg.Scheduler.BackstopInterval)
		assert.Equal(t, 10*time.Minute, cfg.Scheduler.AuditInterval)
		assert.Equal(t, "nats://bus:4222", cfg.Events.NATSURL)
		assert.Equal(t, "debug", cfg.Log.Level)

		// untouched keys keep their defaults
		assert.Equal(t, 2*time.Minute, cfg.Ledger.ConfirmTimeout)
		assert.Equal(t, "elections", cfg.Events.SubjectPrefix)
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		t.Setenv("ELECTION_LOG_LEVEL", "error")
		t.Setenv("ELECTION_SCHEDULER_AUDIT_INTERVAL", "45m")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level)
		assert.Equal(t, 45*time.Minute, cfg.Scheduler.AuditInterval)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		invalidPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(invalidPath, []byte("invalid: [yaml: syntax"), 0644)
		require.NoError(t, err)

		cfg, err := Load(invalidPath)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("DefaultValues", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "development", cfg.Environment)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 2*time.Minute, cfg.Scheduler.PhaseInterval)
		assert.Equal(t, time.Hour, cfg.Scheduler.BackstopInterval)
		assert.Equal(t, 30*time.Minute, cfg.Scheduler.AuditInterval)
		assert.True(t, cfg.Scheduler.RunOnStart)
		assert.True(t, cfg.Audit.Enabled)
		assert.Equal(t, 2, cfg.Audit.RetryAttempts)
		assert.True(t, cfg.Database.MigrateOnStart)
		assert.False(t, cfg.Database.Embedded)
	})
}

func validConfig() *Config {
	return &Config{
		Environment: "test",
		Database: DatabaseConfig{
			URL:      "postgres://localhost/elections",
			MaxConns: 10,
			MinConns: 1,
			Timeout:  30 * time.Second,
		},
		Ledger: LedgerConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        1337,
			CallTimeout:    15 * time.Second,
			ConfirmTimeout: 2 * time.Minute,
		},
		Scheduler: SchedConfig{
			PhaseInterval:    2 * time.Minute,
			BackstopInterval: time.Hour,
			AuditInterval:    30 * time.Minute,
		},
		Audit:  AuditConfig{Enabled: true, RetryAttempts: 2},
		Events: EventsConfig{SubjectPrefix: "elections"},
		Log:    *utils.DefaultLogConfig(),
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		modifyConfig func(*Config)
		wantErr      bool
		errSubstr    string
	}{
		{
			name:         "ValidConfig",
			modifyConfig: func(c *Config) {},
			wantErr:      false,
		},
		{
			name: "EmptyDatabaseURL",
			modifyConfig: func(c *Config) {
				c.Database.URL = ""
			},
			wantErr:   true,
			errSubstr: "cannot be empty",
		},
		{
			name: "EmbeddedWithoutURL",
			modifyConfig: func(c *Config) {
				c.Database.URL = ""
				c.Database.Embedded = true
				c.Database.EmbeddedPort = 5433
			},
			wantErr: false,
		},
		{
			name: "MinConnsAboveMax",
			modifyConfig: func(c *Config) {
				c.Database.MinConns = 20
			},
			wantErr:   true,
			errSubstr: "min_conns",
		},
		{
			name: "PhaseNotShorterThanBackstop",
			modifyConfig: func(c *Config) {
				c.Scheduler.PhaseInterval = time.Hour
			},
			wantErr:   true,
			errSubstr: "must be shorter than backstop_interval",
		},
		{
			name: "ZeroAuditInterval",
			modifyConfig: func(c *Config) {
				c.Scheduler.AuditInterval = 0
			},
			wantErr:   true,
			errSubstr: "must be positive",
		},
		{
			name: "MalformedPrivateKey",
			modifyConfig: func(c *Config) {
				c.Ledger.PrivateKey = "0xnothex"
			},
			wantErr:   true,
			errSubstr: "private_key",
		},
		{
			name: "PrivateKeyWithPrefix",
			modifyConfig: func(c *Config) {
				c.Ledger.PrivateKey = "0x" + strings.Repeat("ab", 32)
			},
			wantErr: false,
		},
		{
			name: "NegativeAuditRetries",
			modifyConfig: func(c *Config) {
				c.Audit.RetryAttempts = -1
			},
			wantErr:   true,
			errSubstr: "cannot be negative",
		},
		{
			name: "NATSWithoutPrefix",
			modifyConfig: func(c *Config) {
				c.Events.NATSURL = "nats://localhost:4222"
				c.Events.SubjectPrefix = ""
			},
			wantErr:   true,
			errSubstr: "subject_prefix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modifyConfig(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errSubstr != "" {
					assert.Contains(t, err.Error(), tt.errSubstr)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		wantLevel string
	}{
		{name: "Debug", logLevel: "debug", wantLevel: "debug"},
		{name: "Warn", logLevel: "WARN", wantLevel: "warn"},
		{name: "Invalid", logLevel: "invalid", wantLevel: "info"},
		{name: "Empty", logLevel: "", wantLevel: "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Log: utils.LogConfig{Level: tt.logLevel}}
			assert.Equal(t, tt.wantLevel, cfg.GetLogLevel().String())
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	assert.True(t, (&Config{Environment: "DEVELOPMENT"}).IsDevelopment())
	assert.False(t, (&Config{Environment: "production"}).IsDevelopment())
	assert.False(t, (&Config{}).IsDevelopment())
}
