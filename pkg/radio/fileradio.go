package radio

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// FileRadio implements pkg.Radio over JSON snapshot files the platform's
// wireless shim refreshes. Missing files mean no data yet, not an error,
// so the daemon idles cleanly before the shim comes up.
type FileRadio struct {
	logger    *logx.Logger
	scanPath  string
	linkPath  string
	statsPath string
}

// NewFileRadio creates a radio reading the given snapshot paths
func NewFileRadio(scanPath, linkPath, statsPath string, logger *logx.Logger) *FileRadio {
	return &FileRadio{
		logger:    logger.WithComponent("radio"),
		scanPath:  scanPath,
		linkPath:  linkPath,
		statsPath: statsPath,
	}
}

// ScanResults implements pkg.Radio
func (r *FileRadio) ScanResults() ([]*pkg.ScanEntry, error) {
	var entries []*pkg.ScanEntry
	ok, err := r.readJSON(r.scanPath, &entries)
	if err != nil || !ok {
		return nil, err
	}
	return entries, nil
}

// LinkInfo implements pkg.Radio
func (r *FileRadio) LinkInfo() (*pkg.WifiLinkInfo, error) {
	var info pkg.WifiLinkInfo
	ok, err := r.readJSON(r.linkPath, &info)
	if err != nil || !ok {
		return nil, err
	}
	if info.Bssid == pkg.ZeroBssid {
		return nil, nil
	}
	return &info, nil
}

// LinkLayerStats implements pkg.Radio
func (r *FileRadio) LinkLayerStats() (*pkg.LinkLayerStats, error) {
	var stats pkg.LinkLayerStats
	ok, err := r.readJSON(r.statsPath, &stats)
	if err != nil || !ok {
		return nil, err
	}
	return &stats, nil
}

// readJSON unmarshals path into v. The bool reports whether the file
// existed and held data.
func (r *FileRadio) readJSON(path string, v interface{}) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}
