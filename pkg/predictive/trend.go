package predictive

import (
	"sync"

	"github.com/sajari/regression"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// TrendDirection classifies a fitted signal slope
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
)

// stableSlopeDbPerSec is the band around zero treated as no trend
const stableSlopeDbPerSec = 0.05

type signalSample struct {
	timestampMs int64
	rssiDbm     float64
}

// SignalTrendAnalyzerConfig holds the fitting parameters
type SignalTrendAnalyzerConfig struct {
	MaxSamples          int     `json:"max_samples"`
	MinSamples          int     `json:"min_samples"`
	WindowMs            int64   `json:"window_ms"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// DefaultSignalTrendAnalyzerConfig returns the defaults used by the daemon
func DefaultSignalTrendAnalyzerConfig() *SignalTrendAnalyzerConfig {
	return &SignalTrendAnalyzerConfig{
		MaxSamples:          60,    // one minute at 1s polls
		MinSamples:          6,     // too few points fit noise, not motion
		WindowMs:            60000, // fit over the last minute only
		ConfidenceThreshold: 0.6,   // R2 below this means no usable trend
	}
}

// SignalTrendAnalyzer fits a least-squares line through recent RSSI
// samples per BSSID and projects it forward. It feeds the selector's
// predictive sufficiency gate: a link that is strong now but falling fast
// gets replaced before it degrades. Forecasts are refused when the fit
// explains too little of the variance.
type SignalTrendAnalyzer struct {
	mu      sync.RWMutex
	logger  *logx.Logger
	config  *SignalTrendAnalyzerConfig
	samples map[pkg.Bssid][]signalSample
}

// NewSignalTrendAnalyzer creates an analyzer, nil config means defaults
func NewSignalTrendAnalyzer(cfg *SignalTrendAnalyzerConfig, logger *logx.Logger) *SignalTrendAnalyzer {
	if cfg == nil {
		cfg = DefaultSignalTrendAnalyzerConfig()
	}
	return &SignalTrendAnalyzer{
		logger:  logger.WithComponent("predictive"),
		config:  cfg,
		samples: make(map[pkg.Bssid][]signalSample),
	}
}

// AddSample records one RSSI observation for a BSSID
func (a *SignalTrendAnalyzer) AddSample(bssid pkg.Bssid, rssiDbm int, timestampMs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := append(a.samples[bssid], signalSample{timestampMs: timestampMs, rssiDbm: float64(rssiDbm)})

	// Drop everything outside the fit window, then cap the count
	cutoff := timestampMs - a.config.WindowMs
	start := 0
	for start < len(history) && history[start].timestampMs < cutoff {
		start++
	}
	history = history[start:]
	if len(history) > a.config.MaxSamples {
		history = history[len(history)-a.config.MaxSamples:]
	}
	a.samples[bssid] = history
}

// Forget drops all history for a BSSID, used on disconnect
func (a *SignalTrendAnalyzer) Forget(bssid pkg.Bssid) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.samples, bssid)
}

// ForecastRssi projects the BSSID's RSSI horizonMs past the newest sample.
// The bool is false when there is no trustworthy fit.
func (a *SignalTrendAnalyzer) ForecastRssi(bssid pkg.Bssid, horizonMs int64) (float64, bool) {
	a.mu.RLock()
	history := a.samples[bssid]
	a.mu.RUnlock()

	fit, ok := a.fit(history)
	if !ok {
		return 0, false
	}
	last := history[len(history)-1].timestampMs
	atSec := float64(last-history[0].timestampMs+horizonMs) / 1000.0
	predicted, err := fit.Predict([]float64{atSec})
	if err != nil {
		return 0, false
	}
	a.logger.LogDebugVerbose("RSSI forecast", map[string]interface{}{
		"bssid":      bssid.String(),
		"samples":    len(history),
		"horizon_ms": horizonMs,
		"predicted":  predicted,
		"r2":         fit.R2,
	})
	return predicted, true
}

// Trend returns the fitted slope in dB per second and its classification
func (a *SignalTrendAnalyzer) Trend(bssid pkg.Bssid) (float64, TrendDirection, bool) {
	a.mu.RLock()
	history := a.samples[bssid]
	a.mu.RUnlock()

	fit, ok := a.fit(history)
	if !ok {
		return 0, TrendStable, false
	}
	slope := fit.Coeff(1)
	switch {
	case slope > stableSlopeDbPerSec:
		return slope, TrendImproving, true
	case slope < -stableSlopeDbPerSec:
		return slope, TrendDegrading, true
	default:
		return slope, TrendStable, true
	}
}

// SampleCount returns how many samples are held for a BSSID
func (a *SignalTrendAnalyzer) SampleCount(bssid pkg.Bssid) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples[bssid])
}

// fit runs the regression over one BSSID's history. Time is rebased to the
// first sample and expressed in seconds so the coefficients stay in a sane
// numeric range.
func (a *SignalTrendAnalyzer) fit(history []signalSample) (*regression.Regression, bool) {
	if len(history) < a.config.MinSamples {
		return nil, false
	}
	base := history[0].timestampMs

	r := new(regression.Regression)
	r.SetObserved("rssi_dbm")
	r.SetVar(0, "elapsed_s")
	for _, s := range history {
		r.Train(regression.DataPoint(s.rssiDbm, []float64{float64(s.timestampMs-base) / 1000.0}))
	}
	if err := r.Run(); err != nil {
		return nil, false
	}
	if r.R2 < a.config.ConfidenceThreshold {
		return nil, false
	}
	return r, true
}
