package predictive

import (
	"testing"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

func testAnalyzer(t *testing.T) *SignalTrendAnalyzer {
	t.Helper()
	return NewSignalTrendAnalyzer(nil, logx.NewLogger("error", "test"))
}

func mustBssid(t *testing.T, s string) pkg.Bssid {
	t.Helper()
	b, err := pkg.ParseBssid(s)
	if err != nil {
		t.Fatalf("ParseBssid(%q): %v", s, err)
	}
	return b
}

// feedLinear adds samples falling linearly at slopeDbPerSec
func feedLinear(a *SignalTrendAnalyzer, bssid pkg.Bssid, startRssi int, slopeDbPerSec float64, count int) {
	for i := 0; i < count; i++ {
		rssi := startRssi + int(slopeDbPerSec*float64(i))
		a.AddSample(bssid, rssi, int64(i)*1000)
	}
}

func TestForecastDegradingSignal(t *testing.T) {
	a := testAnalyzer(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	// RSSI falls 1 dB per second from -50: after 10 samples the latest is
	// -59, so 10 s ahead should land near -69.
	feedLinear(a, bssid, -50, -1.0, 10)

	predicted, ok := a.ForecastRssi(bssid, 10_000)
	if !ok {
		t.Fatal("Expected a forecast for a clean linear series")
	}
	if predicted > -67 || predicted < -71 {
		t.Errorf("Expected forecast near -69 dBm, got %f", predicted)
	}

	slope, direction, ok := a.Trend(bssid)
	if !ok {
		t.Fatal("Expected a trend for a clean linear series")
	}
	if direction != TrendDegrading {
		t.Errorf("Expected degrading trend, got %s", direction)
	}
	if slope > -0.9 || slope < -1.1 {
		t.Errorf("Expected slope near -1 dB/s, got %f", slope)
	}
}

func TestForecastImprovingSignal(t *testing.T) {
	a := testAnalyzer(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")
	feedLinear(a, bssid, -80, 2.0, 10)

	_, direction, ok := a.Trend(bssid)
	if !ok {
		t.Fatal("Expected a trend")
	}
	if direction != TrendImproving {
		t.Errorf("Expected improving trend, got %s", direction)
	}
}

func TestNoForecastBelowMinSamples(t *testing.T) {
	a := testAnalyzer(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	for i := 0; i < DefaultSignalTrendAnalyzerConfig().MinSamples-1; i++ {
		a.AddSample(bssid, -60-i, int64(i)*1000)
	}
	if _, ok := a.ForecastRssi(bssid, 5000); ok {
		t.Error("Expected no forecast below the minimum sample count")
	}
}

func TestNoForecastForNoisySignal(t *testing.T) {
	a := testAnalyzer(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	// Alternating swings with no trend: the fit explains almost none of the
	// variance and must be refused.
	for i := 0; i < 20; i++ {
		rssi := -60
		if i%2 == 0 {
			rssi = -75
		}
		a.AddSample(bssid, rssi, int64(i)*1000)
	}
	if _, ok := a.ForecastRssi(bssid, 5000); ok {
		t.Error("Expected no forecast for a noisy series")
	}
}

func TestWindowPruning(t *testing.T) {
	a := testAnalyzer(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")
	cfg := DefaultSignalTrendAnalyzerConfig()

	a.AddSample(bssid, -50, 0)
	a.AddSample(bssid, -51, cfg.WindowMs+10_000)
	if got := a.SampleCount(bssid); got != 1 {
		t.Errorf("Expected the out-of-window sample to be pruned, got %d samples", got)
	}
}

func TestSampleCapEnforced(t *testing.T) {
	cfg := DefaultSignalTrendAnalyzerConfig()
	cfg.WindowMs = 1 << 40 // effectively unbounded window
	a := NewSignalTrendAnalyzer(cfg, logx.NewLogger("error", "test"))
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	for i := 0; i < cfg.MaxSamples*2; i++ {
		a.AddSample(bssid, -60, int64(i)*100)
	}
	if got := a.SampleCount(bssid); got != cfg.MaxSamples {
		t.Errorf("Expected sample count capped at %d, got %d", cfg.MaxSamples, got)
	}
}

func TestForget(t *testing.T) {
	a := testAnalyzer(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")
	feedLinear(a, bssid, -50, -1.0, 10)

	a.Forget(bssid)
	if got := a.SampleCount(bssid); got != 0 {
		t.Errorf("Expected no samples after Forget, got %d", got)
	}
	if _, ok := a.ForecastRssi(bssid, 5000); ok {
		t.Error("Expected no forecast after Forget")
	}
}

func TestPerBssidIsolation(t *testing.T) {
	a := testAnalyzer(t)
	falling := mustBssid(t, "aa:bb:cc:dd:ee:01")
	rising := mustBssid(t, "aa:bb:cc:dd:ee:02")

	feedLinear(a, falling, -50, -1.0, 10)
	feedLinear(a, rising, -80, 1.0, 10)

	_, dirA, okA := a.Trend(falling)
	_, dirB, okB := a.Trend(rising)
	if !okA || !okB {
		t.Fatal("Expected trends for both BSSIDs")
	}
	if dirA != TrendDegrading || dirB != TrendImproving {
		t.Errorf("Expected degrading/improving, got %s/%s", dirA, dirB)
	}
}
