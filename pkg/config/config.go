package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable the decision core consumes. Values the selection
// contract fixes (minimum reselection interval, user-selection grace window,
// decay horizon, blocklist base duration) default to their contract values;
// changing them changes observable behavior and is for lab use only.
type Config struct {
	// Main
	Enable         bool   `toml:"enable" json:"enable"`
	PollIntervalMS int    `toml:"poll_interval_ms" json:"poll_interval_ms"`
	ScanIntervalMS int    `toml:"scan_interval_ms" json:"scan_interval_ms"`
	LogLevel       string `toml:"log_level" json:"log_level"`

	// Network selector
	MinSelectionIntervalS   int    `toml:"min_selection_interval_s" json:"min_selection_interval_s"`
	LastUserSelectionGraceS int    `toml:"last_user_selection_grace_s" json:"last_user_selection_grace_s"`
	LastSelectionDecayHours int    `toml:"last_selection_decay_hours" json:"last_selection_decay_hours"`
	RoamWhileConnected      bool   `toml:"roam_while_connected" json:"roam_while_connected"`
	AllowUntrusted          bool   `toml:"allow_untrusted" json:"allow_untrusted"`
	ActiveScorer            string `toml:"active_scorer" json:"active_scorer"`

	// RSSI thresholds, dBm
	EntryRssi24      int `toml:"entry_rssi_24" json:"entry_rssi_24"`
	EntryRssi5       int `toml:"entry_rssi_5" json:"entry_rssi_5"`
	SufficientRssi24 int `toml:"sufficient_rssi_24" json:"sufficient_rssi_24"`
	SufficientRssi5  int `toml:"sufficient_rssi_5" json:"sufficient_rssi_5"`

	// Minimum packet flow for a link to count as actively carrying traffic
	ActiveTrafficPktPerSec float64 `toml:"active_traffic_pkt_per_sec" json:"active_traffic_pkt_per_sec"`

	// Predictive degradation gate
	PredictiveEnabled    bool    `toml:"predictive_enabled" json:"predictive_enabled"`
	PredictiveRssiMargin float64 `toml:"predictive_rssi_margin" json:"predictive_rssi_margin"`

	// BSSID blocklist
	BlocklistBaseDurationS int `toml:"blocklist_base_duration_s" json:"blocklist_base_duration_s"`

	// Data stall detector
	StallTxPktPerSecThr    float64 `toml:"stall_tx_pkt_per_sec_thr" json:"stall_tx_pkt_per_sec_thr"`
	StallRxPktPerSecThr    float64 `toml:"stall_rx_pkt_per_sec_thr" json:"stall_rx_pkt_per_sec_thr"`
	StallTxTputLowKbps     int64   `toml:"stall_tx_tput_low_kbps" json:"stall_tx_tput_low_kbps"`
	StallRxTputLowKbps     int64   `toml:"stall_rx_tput_low_kbps" json:"stall_rx_tput_low_kbps"`
	StallCcaLevelThr       int     `toml:"stall_cca_level_thr" json:"stall_cca_level_thr"`
	StallTxPerThrPercent   int     `toml:"stall_tx_per_thr_percent" json:"stall_tx_per_thr_percent"`
	StallDurationMs        int64   `toml:"stall_duration_ms" json:"stall_duration_ms"`
	StallValidityWindowMs  int64   `toml:"stall_validity_window_ms" json:"stall_validity_window_ms"`
	StallMaxDeltaMs        int64   `toml:"stall_max_delta_ms" json:"stall_max_delta_ms"`
	TputSufficientLowKbps  int64   `toml:"tput_sufficient_low_kbps" json:"tput_sufficient_low_kbps"`
	TputSufficientHighKbps int64   `toml:"tput_sufficient_high_kbps" json:"tput_sufficient_high_kbps"`
	TputSufficiencyRatio   float64 `toml:"tput_sufficiency_ratio" json:"tput_sufficiency_ratio"`
	TputTrustPktPerSec     float64 `toml:"tput_trust_pkt_per_sec" json:"tput_trust_pkt_per_sec"`

	// Telemetry store
	RetentionHours int `toml:"retention_hours" json:"retention_hours"`
	MaxRAMMB       int `toml:"max_ram_mb" json:"max_ram_mb"`

	// Metrics listener
	MetricsEnabled bool `toml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPort    int  `toml:"metrics_port" json:"metrics_port"`

	// MQTT event publishing
	MQTTEnabled     bool   `toml:"mqtt_enabled" json:"mqtt_enabled"`
	MQTTBroker      string `toml:"mqtt_broker" json:"mqtt_broker"`
	MQTTPort        int    `toml:"mqtt_port" json:"mqtt_port"`
	MQTTClientID    string `toml:"mqtt_client_id" json:"mqtt_client_id"`
	MQTTUsername    string `toml:"mqtt_username" json:"mqtt_username"`
	MQTTPassword    string `toml:"mqtt_password" json:"mqtt_password"`
	MQTTTopicPrefix string `toml:"mqtt_topic_prefix" json:"mqtt_topic_prefix"`
	MQTTQoS         int    `toml:"mqtt_qos" json:"mqtt_qos"`

	// Connectivity validation
	ValidationTargets   []string `toml:"validation_targets" json:"validation_targets"`
	ValidationIntervalS int      `toml:"validation_interval_s" json:"validation_interval_s"`
	ValidationTimeoutS  int      `toml:"validation_timeout_s" json:"validation_timeout_s"`

	// Diagnostics persistence
	AuditPath            string `toml:"audit_path" json:"audit_path"`
	AuditMaxRecords      int    `toml:"audit_max_records" json:"audit_max_records"`
	HistoryPath          string `toml:"history_path" json:"history_path"`
	HistoryRetentionDays int    `toml:"history_retention_days" json:"history_retention_days"`

	// Platform integration: the wireless interface for byte counters, the
	// saved-networks file and the snapshot files the platform shim writes
	Interface    string `toml:"interface" json:"interface"`
	NetworksPath string `toml:"networks_path" json:"networks_path"`
	ScanPath     string `toml:"scan_path" json:"scan_path"`
	LinkPath     string `toml:"link_path" json:"link_path"`
	StatsPath    string `toml:"stats_path" json:"stats_path"`
}

// Default returns the stock configuration
func Default() *Config {
	return &Config{
		Enable:         true,
		PollIntervalMS: 3000,
		ScanIntervalMS: 10000,
		LogLevel:       "info",

		MinSelectionIntervalS:   10,
		LastUserSelectionGraceS: 30,
		LastSelectionDecayHours: 8,
		RoamWhileConnected:      true,
		AllowUntrusted:          false,
		ActiveScorer:            "ThroughputScorer",

		EntryRssi24:      -80,
		EntryRssi5:       -77,
		SufficientRssi24: -73,
		SufficientRssi5:  -70,

		ActiveTrafficPktPerSec: 8.0,

		PredictiveEnabled:    true,
		PredictiveRssiMargin: 5.0,

		BlocklistBaseDurationS: 300,

		StallTxPktPerSecThr:    2.0,
		StallRxPktPerSecThr:    2.0,
		StallTxTputLowKbps:     2000,
		StallRxTputLowKbps:     2000,
		StallCcaLevelThr:       213,
		StallTxPerThrPercent:   90,
		StallDurationMs:        1500,
		StallValidityWindowMs:  30000,
		StallMaxDeltaMs:        60000,
		TputSufficientLowKbps:  1000,
		TputSufficientHighKbps: 4000,
		TputSufficiencyRatio:   2.0,
		TputTrustPktPerSec:     100.0,

		RetentionHours: 24,
		MaxRAMMB:       16,

		MetricsEnabled: false,
		MetricsPort:    9547,

		MQTTEnabled:     false,
		MQTTBroker:      "localhost",
		MQTTPort:        1883,
		MQTTClientID:    "roamcored",
		MQTTTopicPrefix: "roamcore",
		MQTTQoS:         1,

		ValidationTargets:   []string{"8.8.8.8", "1.1.1.1"},
		ValidationIntervalS: 30,
		ValidationTimeoutS:  5,

		AuditPath:            "/var/lib/roamcore/audit.db",
		AuditMaxRecords:      1000,
		HistoryPath:          "/var/lib/roamcore/history.db",
		HistoryRetentionDays: 14,

		Interface:    "wlan0",
		NetworksPath: "/etc/roamcore/networks.json",
		ScanPath:     "/run/roamcore/scan.json",
		LinkPath:     "/run/roamcore/link.json",
		StatsPath:    "/run/roamcore/stats.json",
	}
}

// Load reads TOML configuration from path over the defaults. A missing file
// is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("error decoding config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise corrupt decision behavior
func (c *Config) Validate() error {
	if c.MinSelectionIntervalS < 0 {
		return fmt.Errorf("min_selection_interval_s must be non-negative")
	}
	if c.LastSelectionDecayHours < 1 {
		return fmt.Errorf("last_selection_decay_hours must be at least 1")
	}
	if c.BlocklistBaseDurationS < 1 {
		return fmt.Errorf("blocklist_base_duration_s must be positive")
	}
	if c.EntryRssi24 >= 0 || c.EntryRssi5 >= 0 || c.SufficientRssi24 >= 0 || c.SufficientRssi5 >= 0 {
		return fmt.Errorf("rssi thresholds must be negative dBm values")
	}
	if c.StallCcaLevelThr < 0 || c.StallCcaLevelThr > 255 {
		return fmt.Errorf("stall_cca_level_thr must be within 0..255")
	}
	if c.StallTxPerThrPercent < 0 || c.StallTxPerThrPercent > 100 {
		return fmt.Errorf("stall_tx_per_thr_percent must be within 0..100")
	}
	if c.StallDurationMs <= 0 || c.StallValidityWindowMs < c.StallDurationMs {
		return fmt.Errorf("stall validity window must cover the stall duration")
	}
	if c.StallMaxDeltaMs < c.StallValidityWindowMs {
		return fmt.Errorf("stall_max_delta_ms must be at least the validity window")
	}
	if c.RetentionHours < 1 || c.RetentionHours > 168 {
		return fmt.Errorf("retention_hours must be between 1 and 168")
	}
	if c.MaxRAMMB < 1 || c.MaxRAMMB > 128 {
		return fmt.Errorf("max_ram_mb must be between 1 and 128")
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2")
	}
	return nil
}
