package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// storeFile is the on-disk JSON layout
type storeFile struct {
	Networks                []*pkg.NetworkConfig `json:"networks"`
	LastSelectedNetworkID   int                  `json:"last_selected_network_id"`
	LastSelectedTimestampMs int64                `json:"last_selected_timestamp_ms"`
}

// FileStore is a JSON-file-backed pkg.ConfigStore. The platform's
// supplicant integration owns the file; the store re-reads it on demand
// and keeps candidate caches and disable windows in memory.
type FileStore struct {
	mu     sync.RWMutex
	logger *logx.Logger
	clock  pkg.Clock
	path   string

	networks map[int]*pkg.NetworkConfig
	byKey    map[string]int

	lastSelectedID   int
	lastSelectedTsMs int64

	// networkID to elapsed-ms deadline after which re-enable is allowed
	disabledUntil map[int]int64
}

// NewFileStore loads the networks file; a missing file yields an empty
// store rather than an error so first boot works.
func NewFileStore(path string, clock pkg.Clock, logger *logx.Logger) (*FileStore, error) {
	fs := &FileStore{
		logger:        logger.WithComponent("store"),
		clock:         clock,
		path:          path,
		networks:      make(map[int]*pkg.NetworkConfig),
		byKey:         make(map[string]int),
		disabledUntil: make(map[int]int64),
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Reload re-reads the networks file, replacing the in-memory set but
// keeping candidate caches for networks that survived
func (fs *FileStore) Reload() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		fs.logger.Debug("Networks file absent, starting empty", "path", fs.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read networks file: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse networks file: %w", err)
	}

	old := fs.networks
	fs.networks = make(map[int]*pkg.NetworkConfig, len(file.Networks))
	fs.byKey = make(map[string]int, len(file.Networks))
	for _, nc := range file.Networks {
		if nc == nil {
			continue
		}
		if prev, ok := old[nc.NetworkID]; ok && nc.CandidateEntry == nil {
			nc.CandidateEntry = prev.CandidateEntry
			nc.CandidateScore = prev.CandidateScore
		}
		fs.networks[nc.NetworkID] = nc
		fs.byKey[nc.Key()] = nc.NetworkID
	}
	fs.lastSelectedID = file.LastSelectedNetworkID
	fs.lastSelectedTsMs = file.LastSelectedTimestampMs

	fs.logger.Info("Networks loaded", "path", fs.path, "count", len(fs.networks))
	return nil
}

// Save writes the current state back to the networks file
func (fs *FileStore) Save() error {
	fs.mu.RLock()
	file := storeFile{
		Networks:                make([]*pkg.NetworkConfig, 0, len(fs.networks)),
		LastSelectedNetworkID:   fs.lastSelectedID,
		LastSelectedTimestampMs: fs.lastSelectedTsMs,
	}
	for _, nc := range fs.networks {
		file.Networks = append(file.Networks, nc)
	}
	fs.mu.RUnlock()

	raw, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal networks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write networks file: %w", err)
	}
	return os.Rename(tmp, fs.path)
}

// GetConfiguredNetworks implements pkg.ConfigStore
func (fs *FileStore) GetConfiguredNetworks() []*pkg.NetworkConfig {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*pkg.NetworkConfig, 0, len(fs.networks))
	for _, nc := range fs.networks {
		out = append(out, nc)
	}
	return out
}

// GetConfiguredNetwork implements pkg.ConfigStore
func (fs *FileStore) GetConfiguredNetwork(networkID int) *pkg.NetworkConfig {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.networks[networkID]
}

// GetConfiguredNetworkByKey implements pkg.ConfigStore
func (fs *FileStore) GetConfiguredNetworkByKey(key string) *pkg.NetworkConfig {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if id, ok := fs.byKey[key]; ok {
		return fs.networks[id]
	}
	return nil
}

// SetNetworkCandidate implements pkg.ConfigStore
func (fs *FileStore) SetNetworkCandidate(networkID int, entry *pkg.ScanEntry, score int) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	nc, ok := fs.networks[networkID]
	if !ok {
		return false
	}
	nc.CandidateEntry = entry
	nc.CandidateScore = score
	return true
}

// GetLastSelectedNetworkID implements pkg.ConfigStore
func (fs *FileStore) GetLastSelectedNetworkID() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.lastSelectedID
}

// GetLastSelectedTimestampMs implements pkg.ConfigStore
func (fs *FileStore) GetLastSelectedTimestampMs() int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.lastSelectedTsMs
}

// TryEnableNetwork implements pkg.ConfigStore
func (fs *FileStore) TryEnableNetwork(networkID int) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	nc, ok := fs.networks[networkID]
	if !ok {
		return false
	}
	if nc.Enabled {
		return true
	}
	deadline, disabled := fs.disabledUntil[networkID]
	if !disabled {
		return false
	}
	if fs.clock.ElapsedSinceBootMillis() < deadline {
		return false
	}
	delete(fs.disabledUntil, networkID)
	nc.Enabled = true
	fs.logger.Debug("Network re-enabled after disable window", "network_id", networkID)
	return true
}

// DisableNetwork temporarily disables a network for durationMs
func (fs *FileStore) DisableNetwork(networkID int, durationMs int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	nc, ok := fs.networks[networkID]
	if !ok {
		return
	}
	nc.Enabled = false
	fs.disabledUntil[networkID] = fs.clock.ElapsedSinceBootMillis() + durationMs
}

// RecordUserSelection marks a manual network choice. Every other network
// that currently has a live candidate learns the user preferred the
// selected one over it, which is what the connect-choice chain follows.
func (fs *FileStore) RecordUserSelection(networkID int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	selected, ok := fs.networks[networkID]
	if !ok {
		return
	}
	now := fs.clock.ElapsedSinceBootMillis()
	fs.lastSelectedID = networkID
	fs.lastSelectedTsMs = now

	selectedKey := selected.Key()
	selected.ConnectChoice = ""
	selected.ConnectChoiceTimestampMs = 0
	for id, nc := range fs.networks {
		if id == networkID || nc.CandidateEntry == nil {
			continue
		}
		nc.ConnectChoice = selectedKey
		nc.ConnectChoiceTimestampMs = now
	}
	fs.logger.Info("User selection recorded", "network_id", networkID, "key", selectedKey)
}
