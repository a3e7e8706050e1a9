package blocklist

import (
	"testing"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/config"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

type fakeClock struct {
	elapsedMs int64
}

func (c *fakeClock) ElapsedSinceBootMillis() int64 { return c.elapsedMs }
func (c *fakeClock) WallClockMillis() int64        { return c.elapsedMs }

// mockController records deny list pushes
type mockController struct {
	supported bool
	maxSize   int
	pushOK    bool

	pushedSsid   pkg.Ssid
	pushedBssids []pkg.Bssid
	pushCount    int
}

func (m *mockController) IsFirmwareRoamingSupported() bool { return m.supported }
func (m *mockController) MaxDenyListSize() int             { return m.maxSize }

func (m *mockController) PushDenyList(ssid pkg.Ssid, bssids []pkg.Bssid) bool {
	m.pushCount++
	m.pushedSsid = ssid
	m.pushedBssids = bssids
	return m.pushOK
}

func mustBssid(t *testing.T, s string) pkg.Bssid {
	t.Helper()
	b, err := pkg.ParseBssid(s)
	if err != nil {
		t.Fatalf("ParseBssid(%q): %v", s, err)
	}
	return b
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeClock, *mockController) {
	t.Helper()
	clock := &fakeClock{elapsedMs: 100_000}
	controller := &mockController{supported: true, maxSize: 16, pushOK: true}
	logger := logx.NewLogger("error", "test")
	m := NewMonitor(config.Default(), clock, controller, nil, logger)
	return m, clock, controller
}

func TestReasonThresholds(t *testing.T) {
	tests := []struct {
		reason FailureReason
		want   int
	}{
		{ReasonWrongPassword, 1},
		{ReasonEapFailure, 1},
		{ReasonApUnableToHandleNewSta, 1},
		{ReasonNetworkValidationFailure, 3},
		{ReasonDhcpFailure, 3},
		{ReasonAssociationRejection, 3},
		{ReasonAssociationTimeout, 3},
		{ReasonAuthenticationFailure, 3},
		{ReasonAbnormalDisconnect, 3},
	}
	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			if got := tt.reason.Threshold(); got != tt.want {
				t.Errorf("Expected threshold %d, got %d", tt.want, got)
			}
		})
	}
}

func TestImmediateBlockOnDeterministicFailure(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	if changed := m.OnConnectionFailure(bssid, "home", ReasonWrongPassword); !changed {
		t.Fatal("Expected the first wrong-password failure to blocklist")
	}
	if !m.IsBlocklisted(bssid) {
		t.Error("Expected BSSID to be blocklisted")
	}
}

func TestThresholdAccumulation(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	for i := 0; i < 2; i++ {
		if changed := m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout); changed {
			t.Fatalf("Blocklisted after %d failures, threshold is 3", i+1)
		}
	}
	if m.IsBlocklisted(bssid) {
		t.Fatal("Blocklisted below threshold")
	}
	if changed := m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout); !changed {
		t.Fatal("Expected the third failure to blocklist")
	}
	// Further failures change nothing while already blocklisted
	if changed := m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout); changed {
		t.Error("Expected no change for an already blocklisted BSSID")
	}
}

func TestCountersArePerReason(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	// Two different three-strike reasons twice each: 4 failures total but no
	// single reason crossed its threshold.
	m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout)
	m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout)
	m.OnConnectionFailure(bssid, "home", ReasonDhcpFailure)
	if changed := m.OnConnectionFailure(bssid, "home", ReasonDhcpFailure); changed {
		t.Fatal("Reasons must not aggregate across counters")
	}
	if m.IsBlocklisted(bssid) {
		t.Error("Blocklisted without any reason crossing its threshold")
	}
}

func TestConnectionSuccessClearsL2Counters(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout)
	m.OnConnectionFailure(bssid, "home", ReasonAssociationTimeout)
	m.OnConnectionFailure(bssid, "home", ReasonDhcpFailure)
	m.OnConnectionFailure(bssid, "home", ReasonDhcpFailure)

	m.OnConnectionSuccess(bssid)

	if got := m.FailureCount(bssid, ReasonAssociationTimeout); got != 0 {
		t.Errorf("Expected association counter cleared, got %d", got)
	}
	// DHCP failures happen after association; success must not clear them
	if got := m.FailureCount(bssid, ReasonDhcpFailure); got != 2 {
		t.Errorf("Expected DHCP counter to survive, got %d", got)
	}

	if changed := m.OnConnectionFailure(bssid, "home", ReasonDhcpFailure); !changed {
		t.Error("Expected the surviving DHCP count to reach its threshold")
	}
}

func TestValidationSuccessClearsOnlyValidation(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	m.OnConnectionFailure(bssid, "home", ReasonNetworkValidationFailure)
	m.OnConnectionFailure(bssid, "home", ReasonNetworkValidationFailure)
	m.OnConnectionFailure(bssid, "home", ReasonDhcpFailure)

	m.OnNetworkValidationSuccess(bssid)

	if got := m.FailureCount(bssid, ReasonNetworkValidationFailure); got != 0 {
		t.Errorf("Expected validation counter cleared, got %d", got)
	}
	if got := m.FailureCount(bssid, ReasonDhcpFailure); got != 1 {
		t.Errorf("Expected DHCP counter untouched, got %d", got)
	}
}

func TestSsidChangeResetsCounters(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	m.OnConnectionFailure(bssid, "old-network", ReasonAssociationTimeout)
	m.OnConnectionFailure(bssid, "old-network", ReasonAssociationTimeout)

	// Same radio, different network: old counters must not carry over
	if changed := m.OnConnectionFailure(bssid, "new-network", ReasonAssociationTimeout); changed {
		t.Fatal("Counters survived an SSID change")
	}
	if got := m.FailureCount(bssid, ReasonAssociationTimeout); got != 1 {
		t.Errorf("Expected count 1 after reset, got %d", got)
	}
}

func TestBlocklistExpiry(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	m.OnConnectionFailure(bssid, "home", ReasonWrongPassword)
	if !m.IsBlocklisted(bssid) {
		t.Fatal("Expected BSSID blocklisted")
	}

	durationMs := int64(config.Default().BlocklistBaseDurationS) * 1000
	clock.elapsedMs += durationMs - 1
	if !m.IsBlocklisted(bssid) {
		t.Fatal("Blocklist expired early")
	}

	clock.elapsedMs += 2
	if m.IsBlocklisted(bssid) {
		t.Fatal("Blocklist did not expire")
	}
	if len(m.GetBlocklist()) != 0 {
		t.Error("Expected empty blocklist after expiry")
	}
	// The record is gone entirely once expired with no residual counters
	if m.Size() != 0 {
		t.Errorf("Expected no residual records, got %d", m.Size())
	}
}

func TestGetBlocklistEvictsExpired(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	a := mustBssid(t, "aa:bb:cc:dd:ee:01")
	b := mustBssid(t, "aa:bb:cc:dd:ee:02")

	m.OnConnectionFailure(a, "home", ReasonWrongPassword)
	clock.elapsedMs += 200_000
	m.OnConnectionFailure(b, "home", ReasonWrongPassword)

	clock.elapsedMs += 150_000 // a expired (300s), b still blocked

	blocked := m.GetBlocklist()
	if _, ok := blocked[a]; ok {
		t.Error("Expected first BSSID to be evicted")
	}
	if _, ok := blocked[b]; !ok {
		t.Error("Expected second BSSID to remain blocked")
	}
}

func TestBlockSuppressor(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	bssid := mustBssid(t, "aa:bb:cc:dd:ee:01")

	vetoed := 0
	m.SetBlockSuppressor(func(b pkg.Bssid, s pkg.Ssid, r FailureReason) bool {
		vetoed++
		return true
	})

	if changed := m.OnConnectionFailure(bssid, "home", ReasonWrongPassword); changed {
		t.Fatal("Expected the suppressor to veto the transition")
	}
	if vetoed != 1 {
		t.Errorf("Expected 1 veto, got %d", vetoed)
	}
	if m.IsBlocklisted(bssid) {
		t.Error("BSSID blocklisted despite veto")
	}
}

func TestInvalidInputIgnored(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	if changed := m.OnConnectionFailure(pkg.ZeroBssid, "home", ReasonWrongPassword); changed {
		t.Error("Zero BSSID must be ignored")
	}
	if changed := m.OnConnectionFailure(pkg.BroadcastBssid, "home", ReasonWrongPassword); changed {
		t.Error("Broadcast BSSID must be ignored")
	}
	valid := mustBssid(t, "aa:bb:cc:dd:ee:01")
	if changed := m.OnConnectionFailure(valid, "home", FailureReason(99)); changed {
		t.Error("Unknown reason must be ignored")
	}
	if m.Size() != 0 {
		t.Errorf("Expected no records from invalid input, got %d", m.Size())
	}
}

func TestPushToFirmware(t *testing.T) {
	t.Run("OrderedByRemainingBan", func(t *testing.T) {
		m, clock, controller := newTestMonitor(t)
		first := mustBssid(t, "aa:bb:cc:dd:ee:01")
		second := mustBssid(t, "aa:bb:cc:dd:ee:02")

		m.OnConnectionFailure(first, "home", ReasonWrongPassword)
		clock.elapsedMs += 10_000
		m.OnConnectionFailure(second, "home", ReasonWrongPassword)

		m.PushToFirmware("home")
		if controller.pushCount != 1 {
			t.Fatalf("Expected 1 push, got %d", controller.pushCount)
		}
		if len(controller.pushedBssids) != 2 {
			t.Fatalf("Expected 2 BSSIDs pushed, got %d", len(controller.pushedBssids))
		}
		// The later block has more remaining time and must come first
		if controller.pushedBssids[0] != second {
			t.Errorf("Expected the freshest ban first, got %s", controller.pushedBssids[0])
		}
	})

	t.Run("TruncatedToFirmwareCapacity", func(t *testing.T) {
		m, _, controller := newTestMonitor(t)
		controller.maxSize = 2
		for i := 1; i <= 4; i++ {
			bssid := mustBssid(t, "aa:bb:cc:dd:ee:0"+string(rune('0'+i)))
			m.OnConnectionFailure(bssid, "home", ReasonWrongPassword)
		}
		m.PushToFirmware("home")
		if len(controller.pushedBssids) != 2 {
			t.Errorf("Expected truncation to 2 entries, got %d", len(controller.pushedBssids))
		}
	})

	t.Run("OtherSsidExcluded", func(t *testing.T) {
		m, _, controller := newTestMonitor(t)
		m.OnConnectionFailure(mustBssid(t, "aa:bb:cc:dd:ee:01"), "home", ReasonWrongPassword)
		m.OnConnectionFailure(mustBssid(t, "aa:bb:cc:dd:ee:02"), "cafe", ReasonWrongPassword)

		m.PushToFirmware("home")
		if len(controller.pushedBssids) != 1 {
			t.Fatalf("Expected only the home BSSID, got %d entries", len(controller.pushedBssids))
		}
		if controller.pushedSsid != "home" {
			t.Errorf("Expected push for home, got %s", controller.pushedSsid)
		}
	})

	t.Run("SkippedWithoutFirmwareSupport", func(t *testing.T) {
		m, _, controller := newTestMonitor(t)
		controller.supported = false
		m.OnConnectionFailure(mustBssid(t, "aa:bb:cc:dd:ee:01"), "home", ReasonWrongPassword)
		m.PushToFirmware("home")
		if controller.pushCount != 0 {
			t.Errorf("Expected no push without firmware support, got %d", controller.pushCount)
		}
	})
}

func TestClearForSsid(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	home := mustBssid(t, "aa:bb:cc:dd:ee:01")
	cafe := mustBssid(t, "aa:bb:cc:dd:ee:02")

	m.OnConnectionFailure(home, "home", ReasonWrongPassword)
	m.OnConnectionFailure(cafe, "cafe", ReasonWrongPassword)

	if removed := m.ClearForSsid("home"); removed != 1 {
		t.Errorf("Expected 1 record removed, got %d", removed)
	}
	if m.IsBlocklisted(home) {
		t.Error("Home BSSID still blocklisted after clear")
	}
	if !m.IsBlocklisted(cafe) {
		t.Error("Cafe BSSID lost its blocklist entry")
	}
}

func TestClearAll(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.OnConnectionFailure(mustBssid(t, "aa:bb:cc:dd:ee:01"), "home", ReasonWrongPassword)
	m.OnConnectionFailure(mustBssid(t, "aa:bb:cc:dd:ee:02"), "cafe", ReasonWrongPassword)

	m.ClearAll()
	if m.Size() != 0 {
		t.Errorf("Expected empty state, got %d records", m.Size())
	}
}
