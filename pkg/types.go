package pkg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bssid is the hardware identifier of one access point radio.
// It is a fixed-size value type so maps keyed by it cannot alias
// through string mutation.
type Bssid [6]byte

// ZeroBssid is the invalid all-zero BSSID.
var ZeroBssid = Bssid{}

// BroadcastBssid is the wildcard ff:ff:ff:ff:ff:ff BSSID. It is never a
// valid peer address and is rejected at every component boundary.
var BroadcastBssid = Bssid{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseBssid parses a colon-separated MAC string into a Bssid
func ParseBssid(s string) (Bssid, error) {
	var b Bssid
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), ":")
	if len(parts) != 6 {
		return ZeroBssid, fmt.Errorf("invalid bssid %q: expected 6 octets", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return ZeroBssid, fmt.Errorf("invalid bssid %q: octet %d malformed", s, i)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return ZeroBssid, fmt.Errorf("invalid bssid %q: octet %d malformed", s, i)
		}
		b[i] = byte(v)
	}
	return b, nil
}

// String returns the canonical lower-case colon form
func (b Bssid) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// IsValid reports whether the BSSID is neither zero nor the broadcast wildcard
func (b Bssid) IsValid() bool {
	return b != ZeroBssid && b != BroadcastBssid
}

// MarshalJSON encodes the BSSID in its canonical string form
func (b Bssid) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts the canonical colon form
func (b *Bssid) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBssid(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Ssid is a human-readable network name. Multiple BSSIDs can share one SSID.
type Ssid string

// IsEmpty reports whether the SSID carries no name
func (s Ssid) IsEmpty() bool { return len(strings.TrimSpace(string(s))) == 0 }

// SecurityClass is the normalized security family of a network. Entries with
// the same SSID but different security classes are distinct logical networks.
type SecurityClass int

const (
	SecurityOpen SecurityClass = iota
	SecurityOwe
	SecurityPsk
	SecuritySae
	SecurityEap
)

// String returns the capability name used in scan results
func (sc SecurityClass) String() string {
	switch sc {
	case SecurityOpen:
		return "OPEN"
	case SecurityOwe:
		return "OWE"
	case SecurityPsk:
		return "PSK"
	case SecuritySae:
		return "SAE"
	case SecurityEap:
		return "EAP"
	default:
		return "UNKNOWN"
	}
}

// SecurityClassFromCaps derives the security class from a scan capability string
func SecurityClassFromCaps(caps string) SecurityClass {
	upper := strings.ToUpper(caps)
	switch {
	case strings.Contains(upper, "EAP"):
		return SecurityEap
	case strings.Contains(upper, "SAE"):
		return SecuritySae
	case strings.Contains(upper, "PSK"), strings.Contains(upper, "WEP"):
		return SecurityPsk
	case strings.Contains(upper, "OWE"):
		return SecurityOwe
	default:
		return SecurityOpen
	}
}

// NetworkKey groups scan entries that belong to one logical network
type NetworkKey struct {
	Ssid     Ssid          `json:"ssid"`
	Security SecurityClass `json:"security"`
}

// String returns the canonical "ssid/security" form used as a map key
func (k NetworkKey) String() string {
	return fmt.Sprintf("%s/%s", k.Ssid, k.Security)
}

// WifiStandard is the 802.11 generation of an access point or device
type WifiStandard int

const (
	StandardLegacy WifiStandard = iota // 11a/b/g
	Standard11N
	Standard11AC
	Standard11AX
)

// String returns the amendment name
func (ws WifiStandard) String() string {
	switch ws {
	case StandardLegacy:
		return "legacy"
	case Standard11N:
		return "11n"
	case Standard11AC:
		return "11ac"
	case Standard11AX:
		return "11ax"
	default:
		return "unknown"
	}
}

// ChannelWidth is the operating channel bandwidth
type ChannelWidth int

const (
	Width20 ChannelWidth = iota
	Width40
	Width80
	Width160
)

// MHz returns the bandwidth in MHz
func (cw ChannelWidth) MHz() int {
	switch cw {
	case Width40:
		return 40
	case Width80:
		return 80
	case Width160:
		return 160
	default:
		return 20
	}
}

// Factor returns the number of 20 MHz doublings (20->0, 40->1, 80->2, 160->3)
func (cw ChannelWidth) Factor() int { return int(cw) }

// Is24GHz reports whether a frequency in MHz is in the 2.4 GHz band
func Is24GHz(freqMHz int) bool { return freqMHz >= 2400 && freqMHz < 2500 }

// Is5GHz reports whether a frequency in MHz is in the 5 GHz band
func Is5GHz(freqMHz int) bool { return freqMHz >= 4900 && freqMHz < 5900 }

// UnknownUtilization marks an absent channel utilization reading
const UnknownUtilization = -1

// MaxChannelUtilization is the full-scale busy value reported by BSS load
// elements and link layer stats (255 == channel busy 100% of the time).
const MaxChannelUtilization = 255

// ScanEntry is one observed access point at a point in time. Entries are
// ephemeral and regenerated every scan cycle.
type ScanEntry struct {
	Ssid               Ssid         `json:"ssid"`
	Bssid              Bssid        `json:"bssid"`
	Caps               string       `json:"caps"`
	RssiDbm            int          `json:"rssi_dbm"`
	FrequencyMHz       int          `json:"frequency_mhz"`
	Width              ChannelWidth `json:"width"`
	Standard           WifiStandard `json:"standard"`
	MaxSpatialStreams  int          `json:"max_spatial_streams"`
	BssLoadUtilization int          `json:"bss_load_utilization"` // 0..255, UnknownUtilization if absent
	AssocDisallowed    bool         `json:"assoc_disallowed"`     // MBO/OCE association disallowed attribute
	Metered            bool         `json:"metered"`
	TimestampMs        int64        `json:"timestamp_ms"`
}

// Key returns the logical network key of this entry
func (se *ScanEntry) Key() NetworkKey {
	return NetworkKey{Ssid: se.Ssid, Security: SecurityClassFromCaps(se.Caps)}
}

// Is24GHz reports whether the entry is in the 2.4 GHz band
func (se *ScanEntry) Is24GHz() bool { return Is24GHz(se.FrequencyMHz) }

// NetworkConfig is one persisted (saved/suggested/passpoint/carrier) network
// as handed out by the external config store. The decision core never owns
// or mutates the store; candidate caches are written back through it.
type NetworkConfig struct {
	NetworkID int           `json:"network_id"`
	Ssid      Ssid          `json:"ssid"`
	Security  SecurityClass `json:"security"`
	Enabled   bool          `json:"enabled"`
	Metered   bool          `json:"metered"`

	// Provenance
	Passpoint        bool   `json:"passpoint"`
	Suggestion       bool   `json:"suggestion"`
	Carrier          bool   `json:"carrier"`
	ExternallyScored bool   `json:"externally_scored"`
	SuggestionOwner  string `json:"suggestion_owner,omitempty"`

	// User connect-choice chain: key of the network the user manually picked
	// while this one was visible, and when.
	ConnectChoice            string `json:"connect_choice,omitempty"`
	ConnectChoiceTimestampMs int64  `json:"connect_choice_timestamp_ms,omitempty"`

	// Candidate cache written back each selection round
	CandidateEntry *ScanEntry `json:"candidate_entry,omitempty"`
	CandidateScore int        `json:"candidate_score,omitempty"`
}

// Key returns the canonical config key (SSID + security class)
func (nc *NetworkConfig) Key() string {
	return NetworkKey{Ssid: nc.Ssid, Security: nc.Security}.String()
}

// WifiLinkInfo is the live state of the currently associated link, as
// reported by the driver layer each poll.
type WifiLinkInfo struct {
	Ssid          Ssid  `json:"ssid"`
	Bssid         Bssid `json:"bssid"`
	NetworkID     int   `json:"network_id"`
	RssiDbm       int   `json:"rssi_dbm"`
	FrequencyMHz  int   `json:"frequency_mhz"`
	LinkSpeedMbps int   `json:"link_speed_mbps"`

	// Packet flow rates, packets per second, smoothed by the supplicant layer
	TxSuccessRate float64 `json:"tx_success_rate"`
	RxSuccessRate float64 `json:"rx_success_rate"`

	// Connection establishment state
	FullyEstablished   bool `json:"fully_established"`
	SignOnInProgress   bool `json:"sign_on_in_progress"` // captive portal / OSU flow
	InternetLost       bool `json:"internet_lost"`
	NoInternetExpected bool `json:"no_internet_expected"` // user accepted a no-internet network

	// Byte counters for layer-3 goodput estimation, not Wi-Fi specific
	TotalTxBytes uint64 `json:"total_tx_bytes"`
	TotalRxBytes uint64 `json:"total_rx_bytes"`
}

// AccessCategory indexes the WMM access categories in link layer stats
type AccessCategory int

const (
	AcBackground AccessCategory = iota
	AcBestEffort
	AcVideo
	AcVoice
	NumAccessCategories
)

// AcCounters are per-access-category MPDU counters
type AcCounters struct {
	TxSuccess uint64 `json:"tx_success"`
	TxRetries uint64 `json:"tx_retries"`
	TxLost    uint64 `json:"tx_lost"`
	RxSuccess uint64 `json:"rx_success"`
}

// LinkLayerStats is one cumulative statistics snapshot from the driver.
// Consumers only ever look at deltas between two snapshots.
type LinkLayerStats struct {
	TimestampMs int64                           `json:"timestamp_ms"` // monotonic, since boot
	Ac          [NumAccessCategories]AcCounters `json:"ac"`

	// Radio airtime counters for link-layer channel utilization
	OnTimeMs      int `json:"on_time_ms"`
	CcaBusyTimeMs int `json:"cca_busy_time_ms"`
}

// TxSuccess sums transmitted MPDUs across access categories
func (s *LinkLayerStats) TxSuccess() uint64 {
	var n uint64
	for i := range s.Ac {
		n += s.Ac[i].TxSuccess
	}
	return n
}

// TxRetries sums retried MPDUs across access categories
func (s *LinkLayerStats) TxRetries() uint64 {
	var n uint64
	for i := range s.Ac {
		n += s.Ac[i].TxRetries
	}
	return n
}

// TxLost sums lost MPDUs across access categories
func (s *LinkLayerStats) TxLost() uint64 {
	var n uint64
	for i := range s.Ac {
		n += s.Ac[i].TxLost
	}
	return n
}

// RxSuccess sums received MPDUs across access categories
func (s *LinkLayerStats) RxSuccess() uint64 {
	var n uint64
	for i := range s.Ac {
		n += s.Ac[i].RxSuccess
	}
	return n
}

// DeviceCapabilities describes what the local radio supports. The predictor
// clamps AP capabilities down to these.
type DeviceCapabilities struct {
	MaxStandard       WifiStandard `json:"max_standard"`
	MaxWidth24        ChannelWidth `json:"max_width_24"`
	MaxWidth5         ChannelWidth `json:"max_width_5"`
	MaxSpatialStreams int          `json:"max_spatial_streams"`
}

// DefaultDeviceCapabilities returns a common 2x2 11ax device profile
func DefaultDeviceCapabilities() DeviceCapabilities {
	return DeviceCapabilities{
		MaxStandard:       Standard11AX,
		MaxWidth24:        Width40,
		MaxWidth5:         Width160,
		MaxSpatialStreams: 2,
	}
}

// ChosenNetwork is the final result of one selection round
type ChosenNetwork struct {
	Config        *NetworkConfig `json:"config"`
	Entry         *ScanEntry     `json:"entry"`
	Score         int            `json:"score"`
	ScorerName    string         `json:"scorer_name"`
	NominatorName string         `json:"nominator_name"`
	SelectedAt    time.Time      `json:"selected_at"`
}
