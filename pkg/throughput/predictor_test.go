package throughput

import (
	"testing"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

func testPredictor(t *testing.T) *Predictor {
	t.Helper()
	return NewPredictor(pkg.DefaultDeviceCapabilities(), logx.NewLogger("error", "test"))
}

func TestPredictDeterministic(t *testing.T) {
	p := testPredictor(t)
	first := p.Predict(pkg.Standard11AX, pkg.Width80, -60, 5180, 2, 50, pkg.UnknownUtilization, false)
	for i := 0; i < 10; i++ {
		got := p.Predict(pkg.Standard11AX, pkg.Width80, -60, 5180, 2, 50, pkg.UnknownUtilization, false)
		if got != first {
			t.Fatalf("Prediction not deterministic: %d vs %d", got, first)
		}
	}
}

func TestPredictMonotonicInRssi(t *testing.T) {
	p := testPredictor(t)
	prev := -1
	for rssi := -95; rssi <= -30; rssi += 5 {
		got := p.Predict(pkg.Standard11AC, pkg.Width80, rssi, 5180, 2, 50, pkg.UnknownUtilization, false)
		if got < prev {
			t.Fatalf("Throughput decreased from %d to %d at rssi %d", prev, got, rssi)
		}
		prev = got
	}
}

func TestPredictMonotonicInUtilization(t *testing.T) {
	p := testPredictor(t)
	prev := 1 << 30
	for util := 0; util <= pkg.MaxChannelUtilization; util += 51 {
		got := p.Predict(pkg.Standard11AC, pkg.Width80, -55, 5180, 2, util, pkg.UnknownUtilization, false)
		if got > prev {
			t.Fatalf("Throughput increased from %d to %d at utilization %d", prev, got, util)
		}
		prev = got
	}
}

func TestPredictSaturatedChannelIsZero(t *testing.T) {
	p := testPredictor(t)
	got := p.Predict(pkg.Standard11AC, pkg.Width20, -50, 5180, 2, pkg.MaxChannelUtilization, pkg.UnknownUtilization, false)
	if got != 0 {
		t.Errorf("Expected 0 Mbps on a fully busy channel, got %d", got)
	}
}

func TestPredictStandardOrdering(t *testing.T) {
	p := testPredictor(t)
	legacy := p.Predict(pkg.StandardLegacy, pkg.Width20, -50, 5180, 1, 0, pkg.UnknownUtilization, false)
	n := p.Predict(pkg.Standard11N, pkg.Width40, -50, 5180, 2, 0, pkg.UnknownUtilization, false)
	ac := p.Predict(pkg.Standard11AC, pkg.Width80, -50, 5180, 2, 0, pkg.UnknownUtilization, false)
	ax := p.Predict(pkg.Standard11AX, pkg.Width80, -50, 5180, 2, 0, pkg.UnknownUtilization, false)

	if !(legacy < n && n < ac && ac < ax) {
		t.Errorf("Expected legacy < 11n < 11ac < 11ax, got %d %d %d %d", legacy, n, ac, ax)
	}
}

func TestPredictLegacyCap(t *testing.T) {
	p := testPredictor(t)
	// A legacy AP cannot exceed its 54 Mbps class rate even at ideal signal
	// on an idle channel.
	got := p.Predict(pkg.StandardLegacy, pkg.Width20, -30, 5180, 1, 0, pkg.UnknownUtilization, false)
	if got > 60 {
		t.Errorf("Legacy prediction implausibly high: %d Mbps", got)
	}
	if got < 40 {
		t.Errorf("Legacy prediction implausibly low on an idle channel: %d Mbps", got)
	}
}

func TestPredictClampsToDeviceCapabilities(t *testing.T) {
	// A single-stream 11n-only device must not benefit from an 8-stream
	// 11ax AP's capabilities.
	caps := pkg.DeviceCapabilities{
		MaxStandard:       pkg.Standard11N,
		MaxWidth24:        pkg.Width20,
		MaxWidth5:         pkg.Width40,
		MaxSpatialStreams: 1,
	}
	limited := NewPredictor(caps, logx.NewLogger("error", "test"))
	full := testPredictor(t)

	lim := limited.Predict(pkg.Standard11AX, pkg.Width160, -50, 5180, 8, 0, pkg.UnknownUtilization, false)
	ref := full.Predict(pkg.Standard11N, pkg.Width40, -50, 5180, 1, 0, pkg.UnknownUtilization, false)
	if lim != ref {
		t.Errorf("Expected clamped prediction %d to equal native 11n/40MHz/1ss %d", lim, ref)
	}
}

func TestPredict24GHzWidthClamp(t *testing.T) {
	p := testPredictor(t)
	w40 := p.Predict(pkg.Standard11AC, pkg.Width40, -50, 2437, 2, 0, pkg.UnknownUtilization, false)
	w80 := p.Predict(pkg.Standard11AC, pkg.Width80, -50, 2437, 2, 0, pkg.UnknownUtilization, false)
	if w80 != w40 {
		t.Errorf("Expected 80 MHz on 2.4 GHz to clamp to the 40 MHz rate: %d vs %d", w80, w40)
	}
}

func TestPredictBluetoothPenalty(t *testing.T) {
	p := testPredictor(t)
	// No measurement available on 2.4 GHz: the Bluetooth default boost must
	// lower the estimate.
	without := p.Predict(pkg.Standard11N, pkg.Width20, -55, 2437, 2, pkg.UnknownUtilization, pkg.UnknownUtilization, false)
	with := p.Predict(pkg.Standard11N, pkg.Width20, -55, 2437, 2, pkg.UnknownUtilization, pkg.UnknownUtilization, true)
	if with >= without {
		t.Errorf("Expected Bluetooth to lower the 2.4 GHz estimate: %d vs %d", with, without)
	}

	// A real BSS load measurement overrides the default and the boost
	measured := p.Predict(pkg.Standard11N, pkg.Width20, -55, 2437, 2, 50, pkg.UnknownUtilization, true)
	reference := p.Predict(pkg.Standard11N, pkg.Width20, -55, 2437, 2, 50, pkg.UnknownUtilization, false)
	if measured != reference {
		t.Errorf("Expected a measured utilization to ignore Bluetooth: %d vs %d", measured, reference)
	}
}

func TestPredictUtilizationFallbackOrder(t *testing.T) {
	p := testPredictor(t)
	bssLoad := p.Predict(pkg.Standard11AC, pkg.Width80, -55, 5180, 2, 100, 200, false)
	linkLayer := p.Predict(pkg.Standard11AC, pkg.Width80, -55, 5180, 2, pkg.UnknownUtilization, 200, false)
	if bssLoad <= linkLayer {
		t.Errorf("Expected the BSS load report (100) to beat the link layer fallback (200): %d vs %d", bssLoad, linkLayer)
	}
}

func TestPredictVeryWeakSignalIsZero(t *testing.T) {
	p := testPredictor(t)
	got := p.Predict(pkg.Standard11AC, pkg.Width20, -95, 5180, 2, 0, pkg.UnknownUtilization, false)
	if got != 0 {
		t.Errorf("Expected 0 Mbps below the noise floor, got %d", got)
	}
}

func TestPredictForEntryMatchesPredict(t *testing.T) {
	p := testPredictor(t)
	entry := &pkg.ScanEntry{
		Ssid:               "home",
		RssiDbm:            -58,
		FrequencyMHz:       5180,
		Width:              pkg.Width80,
		Standard:           pkg.Standard11AX,
		MaxSpatialStreams:  2,
		BssLoadUtilization: 60,
	}
	want := p.Predict(pkg.Standard11AX, pkg.Width80, -58, 5180, 2, 60, 30, false)
	got := p.PredictForEntry(entry, 30, false)
	if got != want {
		t.Errorf("PredictForEntry returned %d, Predict returned %d", got, want)
	}
}
