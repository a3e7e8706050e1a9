package pkg

// Clock abstracts time for the decision core so tests can drive it.
// ElapsedSinceBootMillis is monotonic; WallClockMillis is the wall clock.
type Clock interface {
	ElapsedSinceBootMillis() int64
	WallClockMillis() int64
}

// ConfigStore is the persisted network configuration store. Saved, suggested,
// passpoint and carrier networks all live behind it. The store owns
// persistence; the decision core only reads and writes candidate caches.
type ConfigStore interface {
	GetConfiguredNetworks() []*NetworkConfig
	GetConfiguredNetwork(networkID int) *NetworkConfig
	GetConfiguredNetworkByKey(key string) *NetworkConfig

	// SetNetworkCandidate caches the scan entry and score a selection round
	// associated with a network. Returns false if the network is unknown.
	SetNetworkCandidate(networkID int, entry *ScanEntry, score int) bool

	GetLastSelectedNetworkID() int
	GetLastSelectedTimestampMs() int64

	// TryEnableNetwork re-enables a temporarily disabled network if its
	// disable window has passed. Returns the resulting enabled state.
	TryEnableNetwork(networkID int) bool
}

// WifiController is the firmware/driver control surface consumed by the
// core. Pushing the deny list is a fallible synchronous call; failure is
// logged and retried naturally on the next update.
type WifiController interface {
	IsFirmwareRoamingSupported() bool
	MaxDenyListSize() int
	PushDenyList(ssid Ssid, bssids []Bssid) bool
}

// Radio is the driver-facing read surface the daemon polls. A nil link
// info with a nil error means disconnected.
type Radio interface {
	ScanResults() ([]*ScanEntry, error)
	LinkInfo() (*WifiLinkInfo, error)
	LinkLayerStats() (*LinkLayerStats, error)
}

// UtilizationProvider supplies the measured channel utilization for a
// frequency on the 0..255 scale, UnknownUtilization when no measurement
// exists. It is an external collaborator owned by the radio layer.
type UtilizationProvider interface {
	UtilizationRatio(frequencyMHz int) int
}

// TelemetrySink receives fire-and-forget events and counters. Implementations
// must never block the caller.
type TelemetrySink interface {
	RecordEvent(event *Event)
	IncrementCounter(name string)
}

// NopTelemetrySink discards everything
type NopTelemetrySink struct{}

func (NopTelemetrySink) RecordEvent(*Event)      {}
func (NopTelemetrySink) IncrementCounter(string) {}

// MultiSink fans events out to several sinks in order
type MultiSink []TelemetrySink

func (m MultiSink) RecordEvent(event *Event) {
	for _, sink := range m {
		sink.RecordEvent(event)
	}
}

func (m MultiSink) IncrementCounter(name string) {
	for _, sink := range m {
		sink.IncrementCounter(name)
	}
}
