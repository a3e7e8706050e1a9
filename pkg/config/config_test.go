package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.True(t, cfg.Enable)
	assert.Equal(t, 10, cfg.MinSelectionIntervalS)
	assert.Equal(t, 30, cfg.LastUserSelectionGraceS)
	assert.Equal(t, 8, cfg.LastSelectionDecayHours)
	assert.Equal(t, "ThroughputScorer", cfg.ActiveScorer)
	assert.Equal(t, -77, cfg.EntryRssi5)
	assert.Equal(t, -80, cfg.EntryRssi24)
	assert.Equal(t, -70, cfg.SufficientRssi5)
	assert.Equal(t, -73, cfg.SufficientRssi24)
	assert.Equal(t, 300, cfg.BlocklistBaseDurationS)
	assert.Equal(t, int64(1500), cfg.StallDurationMs)
	assert.Equal(t, int64(30000), cfg.StallValidityWindowMs)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roamcore.toml")
	content := `
enable = true
min_selection_interval_s = 20
sufficient_rssi_5 = -65
active_scorer = "RssiScorer"
blocklist_base_duration_s = 600

mqtt_enabled = true
mqtt_broker = "broker.example.com"
validation_targets = ["9.9.9.9"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.MinSelectionIntervalS)
	assert.Equal(t, -65, cfg.SufficientRssi5)
	assert.Equal(t, "RssiScorer", cfg.ActiveScorer)
	assert.Equal(t, 600, cfg.BlocklistBaseDurationS)
	assert.True(t, cfg.MQTTEnabled)
	assert.Equal(t, "broker.example.com", cfg.MQTTBroker)
	assert.Equal(t, []string{"9.9.9.9"}, cfg.ValidationTargets)

	// Untouched keys keep their defaults
	assert.Equal(t, -77, cfg.EntryRssi5)
	assert.Equal(t, 30, cfg.LastUserSelectionGraceS)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("enable = {{"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(path, []byte("sufficient_rssi_5 = 10"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"NegativeSelectionInterval", func(c *Config) { c.MinSelectionIntervalS = -1 }, true},
		{"ZeroDecayHours", func(c *Config) { c.LastSelectionDecayHours = 0 }, true},
		{"ZeroBlocklistDuration", func(c *Config) { c.BlocklistBaseDurationS = 0 }, true},
		{"PositiveRssiThreshold", func(c *Config) { c.EntryRssi24 = 10 }, true},
		{"CcaOutOfRange", func(c *Config) { c.StallCcaLevelThr = 300 }, true},
		{"PerOutOfRange", func(c *Config) { c.StallTxPerThrPercent = 150 }, true},
		{"ValidityShorterThanDuration", func(c *Config) { c.StallValidityWindowMs = 500 }, true},
		{"MaxDeltaShorterThanValidity", func(c *Config) { c.StallMaxDeltaMs = 1000 }, true},
		{"RetentionTooLong", func(c *Config) { c.RetentionHours = 200 }, true},
		{"RAMTooLarge", func(c *Config) { c.MaxRAMMB = 256 }, true},
		{"BadQoS", func(c *Config) { c.MQTTQoS = 3 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
