package datastall

import (
	"fmt"
	"time"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/config"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Signal is the outcome of one stall check
type Signal int

const (
	SignalNone Signal = iota
	SignalTxStall
	SignalRxStall
	SignalBothStall
)

// String returns the signal name
func (s Signal) String() string {
	switch s {
	case SignalTxStall:
		return "tx_stall"
	case SignalRxStall:
		return "rx_stall"
	case SignalBothStall:
		return "both_stall"
	default:
		return "none"
	}
}

// Band defaults applied when no utilization measurement is available
const (
	defaultCca24      = 102
	defaultCcaAbove24 = 38
)

// notStalling marks the stall window as idle
const notStalling = int64(-1)

// Detector compares consecutive link layer statistic snapshots and flags
// when traffic is high but throughput has collapsed. A stall is only
// emitted after persisting across two consecutive qualifying windows, which
// suppresses transient blips. Callers serialize Update; the sufficiency
// query is a cheap value read.
type Detector struct {
	logger      *logx.Logger
	clock       pkg.Clock
	config      *config.Config
	utilization pkg.UtilizationProvider
	telemetry   pkg.TelemetrySink

	// Two-strikes stall window
	stallStartMs int64
	txStallAccum bool
	rxStallAccum bool

	// Layer-3 goodput state
	haveLastBytes    bool
	lastTotalTxBytes uint64
	lastTotalRxBytes uint64
	tputSufficient   bool

	// Last computed estimates, kept for diagnostics output
	lastL2TputKbps int64
	lastL3TputKbps int64
}

// NewDetector creates a data stall detector
func NewDetector(cfg *config.Config, clock pkg.Clock, utilization pkg.UtilizationProvider, telemetry pkg.TelemetrySink, logger *logx.Logger) *Detector {
	if telemetry == nil {
		telemetry = pkg.NopTelemetrySink{}
	}
	return &Detector{
		logger:         logger,
		clock:          clock,
		config:         cfg,
		utilization:    utilization,
		telemetry:      telemetry,
		stallStartMs:   notStalling,
		tputSufficient: true,
	}
}

// IsThroughputSufficient reports the last sufficiency verdict. It defaults
// to true and is forced true whenever internal state resets.
func (d *Detector) IsThroughputSufficient() bool { return d.tputSufficient }

// LastThroughputKbps returns the last (L2 estimate, L3 goodput) pair
func (d *Detector) LastThroughputKbps() (l2, l3 int64) {
	return d.lastL2TputKbps, d.lastL3TputKbps
}

// reset clears all accumulated state. Sufficiency is forced true because a
// reset means we have nothing trustworthy to judge with.
func (d *Detector) reset() {
	d.stallStartMs = notStalling
	d.txStallAccum = false
	d.rxStallAccum = false
	d.haveLastBytes = false
	d.tputSufficient = true
}

// Update evaluates one pair of consecutive snapshots against the current
// link state and returns the stall signal for this window.
func (d *Detector) Update(prev, curr *pkg.LinkLayerStats, link *pkg.WifiLinkInfo) Signal {
	if prev == nil || curr == nil || link == nil {
		d.reset()
		return SignalNone
	}

	timeDeltaMs := curr.TimestampMs - prev.TimestampMs
	txSuccessDelta := int64(curr.TxSuccess()) - int64(prev.TxSuccess())
	txRetriesDelta := int64(curr.TxRetries()) - int64(prev.TxRetries())
	txLostDelta := int64(curr.TxLost()) - int64(prev.TxLost())
	rxSuccessDelta := int64(curr.RxSuccess()) - int64(prev.RxSuccess())

	// Negative deltas mean the driver reset its counters; everything
	// accumulated so far is garbage.
	if timeDeltaMs <= 0 || txSuccessDelta < 0 || txRetriesDelta < 0 || txLostDelta < 0 || rxSuccessDelta < 0 {
		d.logger.Debug("Stats counter regression, resetting stall state",
			"time_delta_ms", timeDeltaMs)
		d.reset()
		return SignalNone
	}

	if timeDeltaMs > d.config.StallMaxDeltaMs {
		d.logger.Debug("Snapshot gap too large, treating window as unknown",
			"time_delta_ms", timeDeltaMs, "max_ms", d.config.StallMaxDeltaMs)
		d.reset()
		return SignalNone
	}

	txAttemptsDelta := txSuccessDelta + txRetriesDelta + txLostDelta
	txPps := float64(txAttemptsDelta) * 1000 / float64(timeDeltaMs)
	rxPps := float64(rxSuccessDelta) * 1000 / float64(timeDeltaMs)

	txTrafficHigh := txPps >= d.config.StallTxPktPerSecThr
	rxTrafficHigh := rxPps >= d.config.StallRxPktPerSecThr

	// Packet error rate on tx, percent
	txPer := 0
	if txAttemptsDelta > 0 {
		txPer = int((txRetriesDelta + txLostDelta) * 100 / txAttemptsDelta)
	}

	ccaLevel := d.ccaLevel(link.FrequencyMHz)
	ccaHigh := ccaLevel >= d.config.StallCcaLevelThr
	perHigh := txPer >= d.config.StallTxPerThrPercent

	// Per-direction L2 throughput estimate:
	// linkSpeed * (1 - error rate) * (1 - channel busy fraction)
	airFraction := int64(pkg.MaxChannelUtilization - ccaLevel)
	txTputKbps := int64(link.LinkSpeedMbps) * 1000 * int64(100-txPer) / 100 * airFraction / pkg.MaxChannelUtilization
	rxTputKbps := int64(link.LinkSpeedMbps) * 1000 * airFraction / pkg.MaxChannelUtilization

	txTputLow := txTputKbps < d.config.StallTxTputLowKbps
	rxTputLow := rxTputKbps < d.config.StallRxTputLowKbps

	possibleStallTx := txTputLow || ccaHigh || perHigh
	possibleStallRx := rxTputLow || ccaHigh

	d.updateThroughputSufficiency(link, timeDeltaMs, txTputKbps+rxTputKbps, txPps+rxPps)

	// Sticky flags only move when the direction actually carried traffic;
	// an idle radio cannot stall.
	txStalling := txTrafficHigh && possibleStallTx
	rxStalling := rxTrafficHigh && possibleStallRx

	signal := d.detectConsecutiveTwoDataStalls(curr.TimestampMs, txStalling, rxStalling)
	if signal != SignalNone {
		d.logger.LogStall(signal.String(), txTputKbps, rxTputKbps)
		d.telemetry.IncrementCounter("data_stall")
		d.telemetry.RecordEvent(&pkg.Event{
			ID:        fmt.Sprintf("stall_%d", curr.TimestampMs),
			Type:      pkg.EventDataStall,
			Timestamp: time.Now(),
			Ssid:      string(link.Ssid),
			Bssid:     link.Bssid.String(),
			Reason:    signal.String(),
			Data: map[string]interface{}{
				"tx_tput_kbps": txTputKbps,
				"rx_tput_kbps": rxTputKbps,
				"tx_per":       txPer,
				"cca_level":    ccaLevel,
			},
		})
	}
	return signal
}

// detectConsecutiveTwoDataStalls implements the two-strikes window:
// Idle -> pending on the first qualifying window, emit on a second
// qualifying window inside the validity period, re-arm if the pending
// window aged out, reset the moment neither direction stalls.
func (d *Detector) detectConsecutiveTwoDataStalls(nowMs int64, txStalling, rxStalling bool) Signal {
	if !txStalling && !rxStalling {
		d.stallStartMs = notStalling
		d.txStallAccum = false
		d.rxStallAccum = false
		return SignalNone
	}

	d.txStallAccum = d.txStallAccum || txStalling
	d.rxStallAccum = d.rxStallAccum || rxStalling

	if d.stallStartMs == notStalling {
		d.stallStartMs = nowMs
		return SignalNone
	}

	elapsed := nowMs - d.stallStartMs
	if elapsed > d.config.StallValidityWindowMs {
		// First strike aged out; this window becomes the new first strike
		d.stallStartMs = nowMs
		d.txStallAccum = txStalling
		d.rxStallAccum = rxStalling
		return SignalNone
	}
	if elapsed < d.config.StallDurationMs {
		return SignalNone
	}

	tx, rx := d.txStallAccum, d.rxStallAccum
	d.stallStartMs = notStalling
	d.txStallAccum = false
	d.rxStallAccum = false

	switch {
	case tx && rx:
		return SignalBothStall
	case tx:
		return SignalTxStall
	case rx:
		return SignalRxStall
	default:
		return SignalNone
	}
}

// updateThroughputSufficiency compares the L2 capacity estimate against the
// layer-3 goodput measured from total byte counters. An insufficient
// verdict is only accepted when this window carried enough packets to
// trust the measurement; a sufficient one always is.
func (d *Detector) updateThroughputSufficiency(link *pkg.WifiLinkInfo, timeDeltaMs int64, l2TputKbps int64, totalPps float64) {
	d.lastL2TputKbps = l2TputKbps

	if !d.haveLastBytes {
		d.lastTotalTxBytes = link.TotalTxBytes
		d.lastTotalRxBytes = link.TotalRxBytes
		d.haveLastBytes = true
		return
	}

	if link.TotalTxBytes < d.lastTotalTxBytes || link.TotalRxBytes < d.lastTotalRxBytes {
		// Byte counters regressed independently of MPDU counters
		d.lastTotalTxBytes = link.TotalTxBytes
		d.lastTotalRxBytes = link.TotalRxBytes
		d.tputSufficient = true
		return
	}

	bytesDelta := (link.TotalTxBytes - d.lastTotalTxBytes) + (link.TotalRxBytes - d.lastTotalRxBytes)
	d.lastTotalTxBytes = link.TotalTxBytes
	d.lastTotalRxBytes = link.TotalRxBytes

	l3TputKbps := int64(bytesDelta) * 8 / timeDeltaMs
	d.lastL3TputKbps = l3TputKbps

	var sufficientNow bool
	switch {
	case l2TputKbps >= d.config.TputSufficientHighKbps:
		sufficientNow = true
	case l2TputKbps < d.config.TputSufficientLowKbps:
		sufficientNow = false
	default:
		sufficientNow = float64(l2TputKbps) >= float64(l3TputKbps)*d.config.TputSufficiencyRatio
	}

	if !sufficientNow && totalPps < d.config.TputTrustPktPerSec {
		// Too little traffic to trust an insufficient verdict; keep the
		// previous one. Recovery is accepted regardless of traffic.
		return
	}
	d.tputSufficient = sufficientNow
}

func (d *Detector) ccaLevel(frequencyMHz int) int {
	if d.utilization != nil {
		if u := d.utilization.UtilizationRatio(frequencyMHz); u >= 0 && u <= pkg.MaxChannelUtilization {
			return u
		}
	}
	if pkg.Is24GHz(frequencyMHz) {
		return defaultCca24
	}
	return defaultCcaAbove24
}
