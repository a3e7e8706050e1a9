package blocklist

import (
	"fmt"
	"sort"
	"time"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/config"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// FailureReason is a connection failure class with its own counter and
// blocklist threshold. Counters are per-reason independent; a BSSID is only
// blocklisted by crossing one reason's threshold, never by aggregate count.
type FailureReason int

const (
	ReasonApUnableToHandleNewSta FailureReason = iota
	ReasonNetworkValidationFailure
	ReasonWrongPassword
	ReasonEapFailure
	ReasonAssociationRejection
	ReasonAssociationTimeout
	ReasonAuthenticationFailure
	ReasonDhcpFailure
	ReasonAbnormalDisconnect
	numReasons
)

// String returns the reason name used in logs and events
func (r FailureReason) String() string {
	switch r {
	case ReasonApUnableToHandleNewSta:
		return "ap_unable_to_handle_new_sta"
	case ReasonNetworkValidationFailure:
		return "network_validation_failure"
	case ReasonWrongPassword:
		return "wrong_password"
	case ReasonEapFailure:
		return "eap_failure"
	case ReasonAssociationRejection:
		return "association_rejection"
	case ReasonAssociationTimeout:
		return "association_timeout"
	case ReasonAuthenticationFailure:
		return "authentication_failure"
	case ReasonDhcpFailure:
		return "dhcp_failure"
	case ReasonAbnormalDisconnect:
		return "abnormal_disconnect"
	default:
		return "unknown"
	}
}

// IsValid reports whether the reason code is in range
func (r FailureReason) IsValid() bool { return r >= 0 && r < numReasons }

// Threshold returns the failure count at which the reason blocklists a BSSID.
// Deterministic rejections (wrong password, EAP failure, AP refusing new
// stations) trip on the first failure; everything else needs three.
func (r FailureReason) Threshold() int {
	switch r {
	case ReasonWrongPassword, ReasonEapFailure, ReasonApUnableToHandleNewSta:
		return 1
	default:
		return 3
	}
}

// isL2 reports whether an association success logically supersedes the reason
func (r FailureReason) isL2() bool {
	switch r {
	case ReasonDhcpFailure, ReasonNetworkValidationFailure:
		return false
	default:
		return true
	}
}

// bssidStatus is the mutable per-BSSID record. It exists from the first
// observed failure until its blocklist window expires with all counters zero.
type bssidStatus struct {
	bssid        pkg.Bssid
	ssid         pkg.Ssid
	failureCount [numReasons]int
	blocklisted  bool
	blockReason  FailureReason
	expiryMs     int64 // monotonic ElapsedSinceBootMillis
	blockedAtMs  int64
}

func (s *bssidStatus) anyFailures() bool {
	for _, c := range s.failureCount {
		if c > 0 {
			return true
		}
	}
	return false
}

// BlockSuppressor lets a higher-level last-resort recovery mechanism veto a
// pending blocklist transition so it gets first chance at the BSSID.
type BlockSuppressor func(bssid pkg.Bssid, ssid pkg.Ssid, reason FailureReason) bool

// Monitor tracks per-BSSID failure counters and temporarily bans
// misbehaving access points from selection and firmware roaming. Callers
// must serialize calls into it; query results are value copies.
type Monitor struct {
	logger     *logx.Logger
	clock      pkg.Clock
	controller pkg.WifiController
	telemetry  pkg.TelemetrySink
	config     *config.Config

	statusMap  map[pkg.Bssid]*bssidStatus
	suppressor BlockSuppressor
}

// NewMonitor creates a blocklist monitor
func NewMonitor(cfg *config.Config, clock pkg.Clock, controller pkg.WifiController, telemetry pkg.TelemetrySink, logger *logx.Logger) *Monitor {
	if telemetry == nil {
		telemetry = pkg.NopTelemetrySink{}
	}
	return &Monitor{
		logger:     logger,
		clock:      clock,
		controller: controller,
		telemetry:  telemetry,
		config:     cfg,
		statusMap:  make(map[pkg.Bssid]*bssidStatus),
	}
}

// SetBlockSuppressor installs the external watchdog veto hook
func (m *Monitor) SetBlockSuppressor(s BlockSuppressor) { m.suppressor = s }

// blockDuration returns how long a new blocklist entry lasts. An exponential
// backoff hook would slot in here; the duration is currently always the
// configured base.
func (m *Monitor) blockDuration(status *bssidStatus) time.Duration {
	return time.Duration(m.config.BlocklistBaseDurationS) * time.Second
}

// OnConnectionFailure records one failure and returns whether the blocklist
// changed. Malformed input is logged and ignored; this is a monitoring
// subsystem, not a safety gate.
func (m *Monitor) OnConnectionFailure(bssid pkg.Bssid, ssid pkg.Ssid, reason FailureReason) bool {
	if !bssid.IsValid() {
		m.logger.Warn("Ignoring failure for invalid BSSID", "bssid", bssid.String(), "reason", reason.String())
		return false
	}
	if !reason.IsValid() {
		m.logger.Warn("Ignoring unknown failure reason", "bssid", bssid.String(), "reason_code", int(reason))
		return false
	}

	status := m.statusMap[bssid]
	if status == nil {
		status = &bssidStatus{bssid: bssid, ssid: ssid}
		m.statusMap[bssid] = status
	} else if status.ssid != ssid {
		// The AP moved to a different network; stale counters don't apply
		m.logger.Debug("SSID changed for BSSID, resetting counters",
			"bssid", bssid.String(), "old_ssid", status.ssid, "new_ssid", ssid)
		status.failureCount = [numReasons]int{}
		status.ssid = ssid
	}

	status.failureCount[reason]++
	count := status.failureCount[reason]

	m.logger.Debug("Connection failure recorded",
		"bssid", bssid.String(), "ssid", ssid, "reason", reason.String(),
		"count", count, "threshold", reason.Threshold())

	if status.blocklisted || count < reason.Threshold() {
		return false
	}

	if m.suppressor != nil && m.suppressor(bssid, ssid, reason) {
		m.logger.Info("Blocklist transition suppressed by watchdog",
			"bssid", bssid.String(), "ssid", ssid, "reason", reason.String())
		return false
	}

	now := m.clock.ElapsedSinceBootMillis()
	duration := m.blockDuration(status)
	status.blocklisted = true
	status.blockReason = reason
	status.blockedAtMs = now
	status.expiryMs = now + duration.Milliseconds()

	m.logger.Info("BSSID blocklisted",
		"bssid", bssid.String(), "ssid", ssid,
		"reason", reason.String(), "duration", duration.String())
	m.telemetry.IncrementCounter("bssid_blocklisted")
	m.telemetry.RecordEvent(&pkg.Event{
		ID:        fmt.Sprintf("block_%s_%d", bssid, now),
		Type:      pkg.EventBssidBlocked,
		Timestamp: time.Now(),
		Ssid:      string(ssid),
		Bssid:     bssid.String(),
		Reason:    reason.String(),
		Data:      map[string]interface{}{"duration_ms": duration.Milliseconds()},
	})
	return true
}

// OnConnectionSuccess clears the L2 failure counters for a BSSID. The DHCP
// and validation counters survive; those failure modes happen after
// association and are cleared by their own success signals.
func (m *Monitor) OnConnectionSuccess(bssid pkg.Bssid) {
	m.clearCounters(bssid, func(r FailureReason) bool { return r.isL2() })
}

// OnNetworkValidationSuccess clears the validation failure counter
func (m *Monitor) OnNetworkValidationSuccess(bssid pkg.Bssid) {
	m.clearCounters(bssid, func(r FailureReason) bool { return r == ReasonNetworkValidationFailure })
}

// OnDhcpSuccess clears only the DHCP failure counter
func (m *Monitor) OnDhcpSuccess(bssid pkg.Bssid) {
	m.clearCounters(bssid, func(r FailureReason) bool { return r == ReasonDhcpFailure })
}

func (m *Monitor) clearCounters(bssid pkg.Bssid, match func(FailureReason) bool) {
	if !bssid.IsValid() {
		return
	}
	status := m.statusMap[bssid]
	if status == nil {
		return
	}
	for r := FailureReason(0); r < numReasons; r++ {
		if match(r) {
			status.failureCount[r] = 0
		}
	}
	if !status.blocklisted && !status.anyFailures() {
		delete(m.statusMap, bssid)
	}
}

// GetBlocklist returns the set of currently blocklisted BSSIDs. Expired
// entries are evicted as a side effect of every query, so the result never
// contains a BSSID whose window has passed.
func (m *Monitor) GetBlocklist() map[pkg.Bssid]struct{} {
	m.evictExpired()

	blocked := make(map[pkg.Bssid]struct{})
	for bssid, status := range m.statusMap {
		if status.blocklisted {
			blocked[bssid] = struct{}{}
		}
	}
	return blocked
}

// IsBlocklisted reports whether one BSSID is currently banned
func (m *Monitor) IsBlocklisted(bssid pkg.Bssid) bool {
	m.evictExpired()
	status := m.statusMap[bssid]
	return status != nil && status.blocklisted
}

func (m *Monitor) evictExpired() {
	now := m.clock.ElapsedSinceBootMillis()
	for bssid, status := range m.statusMap {
		if !status.blocklisted || now < status.expiryMs {
			continue
		}
		status.blocklisted = false
		status.failureCount[status.blockReason] = 0

		m.logger.Debug("Blocklist window expired", "bssid", bssid.String(), "ssid", status.ssid)
		m.telemetry.RecordEvent(&pkg.Event{
			ID:        fmt.Sprintf("unblock_%s_%d", bssid, now),
			Type:      pkg.EventBssidUnblocked,
			Timestamp: time.Now(),
			Ssid:      string(status.ssid),
			Bssid:     bssid.String(),
			Reason:    "expired",
		})

		if !status.anyFailures() {
			delete(m.statusMap, bssid)
		}
	}
}

// ClearForSsid drops all state for BSSIDs last seen on one SSID, e.g. when
// the user forgets the network.
func (m *Monitor) ClearForSsid(ssid pkg.Ssid) int {
	removed := 0
	for bssid, status := range m.statusMap {
		if status.ssid == ssid {
			delete(m.statusMap, bssid)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Cleared blocklist state for SSID", "ssid", ssid, "removed", removed)
	}
	return removed
}

// ClearAll drops every record, e.g. on factory reset
func (m *Monitor) ClearAll() {
	count := len(m.statusMap)
	m.statusMap = make(map[pkg.Bssid]*bssidStatus)
	if count > 0 {
		m.logger.Info("Cleared entire blocklist", "removed", count)
	}
}

// PushToFirmware hands the current deny list for one SSID to the roaming
// firmware, longest remaining ban first, truncated to firmware capacity.
// Push failure is logged only; the next scheduled update retries naturally.
func (m *Monitor) PushToFirmware(ssid pkg.Ssid) {
	if m.controller == nil || !m.controller.IsFirmwareRoamingSupported() {
		return
	}
	m.evictExpired()

	type entry struct {
		bssid       pkg.Bssid
		remainingMs int64
	}
	now := m.clock.ElapsedSinceBootMillis()
	var entries []entry
	for bssid, status := range m.statusMap {
		if status.blocklisted && status.ssid == ssid {
			entries = append(entries, entry{bssid: bssid, remainingMs: status.expiryMs - now})
		}
	}
	if len(entries) == 0 {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].remainingMs > entries[j].remainingMs })

	max := m.controller.MaxDenyListSize()
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}

	bssids := make([]pkg.Bssid, len(entries))
	for i, e := range entries {
		bssids[i] = e.bssid
	}

	if !m.controller.PushDenyList(ssid, bssids) {
		m.logger.Warn("Firmware deny list push failed", "ssid", ssid, "count", len(bssids))
		return
	}
	m.logger.Debug("Firmware deny list pushed", "ssid", ssid, "count", len(bssids))
	m.telemetry.IncrementCounter("deny_list_pushed")
}

// Size returns how many BSSIDs currently have records
func (m *Monitor) Size() int { return len(m.statusMap) }

// FailureCount returns the current counter for one (bssid, reason), mainly
// for diagnostics output.
func (m *Monitor) FailureCount(bssid pkg.Bssid, reason FailureReason) int {
	if status := m.statusMap[bssid]; status != nil && reason.IsValid() {
		return status.failureCount[reason]
	}
	return 0
}
