package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Outcome classifies one connection lifecycle event
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeValidated Outcome = "validated"
	OutcomeStall     Outcome = "stall"
)

// Observation is one recorded connection lifecycle event for a BSSID
type Observation struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Ssid         string    `json:"ssid"`
	Bssid        string    `json:"bssid"`
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	RssiDbm      int       `json:"rssi_dbm"`
	FrequencyMHz int       `json:"frequency_mhz"`
}

// BssidSummary aggregates the stored history of one BSSID
type BssidSummary struct {
	Bssid      string    `json:"bssid"`
	Ssid       string    `json:"ssid"`
	Successes  int       `json:"successes"`
	Failures   int       `json:"failures"`
	Stalls     int       `json:"stalls"`
	LastSeen   time.Time `json:"last_seen"`
	LastReason string    `json:"last_reason,omitempty"`
}

// DatabaseConfig holds the observation database settings
type DatabaseConfig struct {
	DatabasePath    string `json:"database_path"`
	MaxObservations int    `json:"max_observations"`
	RetentionDays   int    `json:"retention_days"`
}

// DefaultDatabaseConfig returns the daemon defaults
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		DatabasePath:    "/var/lib/roamcore/observations.db",
		MaxObservations: 10000,
		RetentionDays:   30,
	}
}

// Database stores per-BSSID connection history in sqlite. The decision
// core itself never reads it on the hot path; it feeds diagnostics and
// long-horizon tuning.
type Database struct {
	db     *sql.DB
	dbPath string
	logger *logx.Logger
	config *DatabaseConfig
}

// NewDatabase opens (or creates) the observation database
func NewDatabase(config *DatabaseConfig, logger *logx.Logger) (*Database, error) {
	if config == nil {
		config = DefaultDatabaseConfig()
	}
	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	hd := &Database{
		db:     db,
		dbPath: config.DatabasePath,
		logger: logger.WithComponent("history"),
		config: config,
	}
	if err := hd.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	hd.logger.Info("Observation database opened",
		"database_path", config.DatabasePath,
		"retention_days", config.RetentionDays)
	return hd, nil
}

func (hd *Database) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		ssid TEXT NOT NULL,
		bssid TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		rssi_dbm INTEGER,
		frequency_mhz INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_observations_timestamp ON observations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_observations_bssid ON observations(bssid);
	CREATE INDEX IF NOT EXISTS idx_observations_ssid ON observations(ssid);
	`
	_, err := hd.db.Exec(schema)
	return err
}

// RecordObservation appends one lifecycle event
func (hd *Database) RecordObservation(obs *Observation) error {
	if obs == nil || obs.Bssid == "" {
		return fmt.Errorf("observation requires a bssid")
	}
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := hd.db.Exec(`
	INSERT INTO observations (timestamp, ssid, bssid, outcome, reason, rssi_dbm, frequency_mhz)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, obs.Ssid, obs.Bssid, string(obs.Outcome), obs.Reason, obs.RssiDbm, obs.FrequencyMHz,
	)
	if err != nil {
		hd.logger.Error("Failed to store observation", "bssid", obs.Bssid, "error", err)
		return err
	}
	hd.logger.LogDebugVerbose("Observation stored", map[string]interface{}{
		"bssid":   obs.Bssid,
		"outcome": string(obs.Outcome),
		"reason":  obs.Reason,
	})
	return nil
}

// RecordSuccess records a completed association
func (hd *Database) RecordSuccess(bssid pkg.Bssid, ssid pkg.Ssid, rssiDbm, frequencyMHz int) error {
	return hd.RecordObservation(&Observation{
		Ssid: string(ssid), Bssid: bssid.String(),
		Outcome: OutcomeSuccess, RssiDbm: rssiDbm, FrequencyMHz: frequencyMHz,
	})
}

// RecordFailure records a connection failure with its reason
func (hd *Database) RecordFailure(bssid pkg.Bssid, ssid pkg.Ssid, reason string, rssiDbm, frequencyMHz int) error {
	return hd.RecordObservation(&Observation{
		Ssid: string(ssid), Bssid: bssid.String(),
		Outcome: OutcomeFailure, Reason: reason, RssiDbm: rssiDbm, FrequencyMHz: frequencyMHz,
	})
}

// RecordStall records a data stall signal on the current link
func (hd *Database) RecordStall(bssid pkg.Bssid, ssid pkg.Ssid, signal string, rssiDbm, frequencyMHz int) error {
	return hd.RecordObservation(&Observation{
		Ssid: string(ssid), Bssid: bssid.String(),
		Outcome: OutcomeStall, Reason: signal, RssiDbm: rssiDbm, FrequencyMHz: frequencyMHz,
	})
}

// Summary aggregates the stored history of one BSSID
func (hd *Database) Summary(bssid pkg.Bssid) (*BssidSummary, error) {
	row := hd.db.QueryRow(`
	SELECT
		COALESCE(MAX(ssid), ''),
		SUM(CASE WHEN outcome IN ('success', 'validated') THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'stall' THEN 1 ELSE 0 END),
		COALESCE(MAX(timestamp), ''),
		COALESCE((SELECT reason FROM observations WHERE bssid = ? ORDER BY id DESC LIMIT 1), '')
	FROM observations WHERE bssid = ?`, bssid.String(), bssid.String())

	summary := &BssidSummary{Bssid: bssid.String()}
	var lastSeen string
	err := row.Scan(&summary.Ssid, &summary.Successes, &summary.Failures, &summary.Stalls, &lastSeen, &summary.LastReason)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", bssid, err)
	}
	if lastSeen != "" {
		if ts, perr := time.Parse("2006-01-02 15:04:05.999999999-07:00", lastSeen); perr == nil {
			summary.LastSeen = ts
		}
	}
	return summary, nil
}

// RecentObservations returns up to limit observations for an SSID, newest
// first. Empty ssid returns across all networks.
func (hd *Database) RecentObservations(ssid pkg.Ssid, limit int) ([]*Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, ssid, bssid, outcome, COALESCE(reason, ''), rssi_dbm, frequency_mhz
		FROM observations`
	args := []interface{}{}
	if ssid != "" {
		query += ` WHERE ssid = ?`
		args = append(args, string(ssid))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := hd.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		obs := &Observation{}
		var outcome string
		if err := rows.Scan(&obs.ID, &obs.Timestamp, &obs.Ssid, &obs.Bssid, &outcome, &obs.Reason, &obs.RssiDbm, &obs.FrequencyMHz); err != nil {
			return nil, err
		}
		obs.Outcome = Outcome(outcome)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// Cleanup enforces the retention window and the row cap. Called from the
// daemon's housekeeping timer.
func (hd *Database) Cleanup() error {
	cutoff := time.Now().AddDate(0, 0, -hd.config.RetentionDays)
	result, err := hd.db.Exec(`DELETE FROM observations WHERE timestamp < ?`, cutoff)
	if err != nil {
		return err
	}
	aged, _ := result.RowsAffected()

	_, err = hd.db.Exec(`
	DELETE FROM observations WHERE id NOT IN (
		SELECT id FROM observations ORDER BY id DESC LIMIT ?
	)`, hd.config.MaxObservations)
	if err != nil {
		return err
	}
	if aged > 0 {
		hd.logger.Debug("Observation cleanup", "aged_out", aged)
	}
	return nil
}

// Close closes the underlying database
func (hd *Database) Close() error {
	return hd.db.Close()
}
