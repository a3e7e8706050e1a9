package telem

import (
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/roamcore/pkg"
)

// Sample is one link observation: the live link state and the raw link
// layer counters at one poll, plus the throughput prediction made for the
// associated BSSID at that time.
type Sample struct {
	Key               string              `json:"key"` // network key the link belongs to
	Timestamp         time.Time           `json:"timestamp"`
	Link              *pkg.WifiLinkInfo   `json:"link"`
	Stats             *pkg.LinkLayerStats `json:"stats,omitempty"`
	PredictedTputMbps int                 `json:"predicted_tput_mbps"`
}

// Store keeps recent link samples and decision events in RAM ring buffers.
// It doubles as the fire-and-forget telemetry sink for the core components;
// heavier consumers (MQTT, metrics) subscribe through the event callback.
type Store struct {
	mu sync.RWMutex

	retentionHours int
	maxRAMMB       int

	samples map[string]*sampleRing
	events  *eventRing

	counters map[string]int64

	eventCallback func(*pkg.Event)
	lastCleanup   time.Time
}

// NewStore creates a telemetry store with the given retention policy
func NewStore(retentionHours, maxRAMMB int) (*Store, error) {
	if retentionHours < 1 || retentionHours > 168 {
		return nil, fmt.Errorf("retention_hours must be between 1 and 168")
	}
	if maxRAMMB < 1 || maxRAMMB > 128 {
		return nil, fmt.Errorf("max_ram_mb must be between 1 and 128")
	}
	return &Store{
		retentionHours: retentionHours,
		maxRAMMB:       maxRAMMB,
		samples:        make(map[string]*sampleRing),
		events:         newEventRing(1000),
		counters:       make(map[string]int64),
		lastCleanup:    time.Now(),
	}, nil
}

// AddSample records one link sample under its network key
func (s *Store) AddSample(sample *Sample) error {
	if sample == nil || sample.Key == "" {
		return fmt.Errorf("sample must carry a network key")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	s.mu.Lock()
	ring := s.samples[sample.Key]
	if ring == nil {
		ring = newSampleRing(1000)
		s.samples[sample.Key] = ring
	}
	ring.add(sample)
	s.maybeCleanupLocked()
	s.mu.Unlock()
	return nil
}

// GetSamples returns samples for a network key newer than since
func (s *Store) GetSamples(key string, since time.Time) []*Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.samples[key]
	if ring == nil {
		return nil
	}
	return ring.since(since)
}

// Keys returns the network keys with recorded samples
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.samples))
	for key := range s.samples {
		keys = append(keys, key)
	}
	return keys
}

// RecordEvent implements pkg.TelemetrySink. The callback runs on its own
// goroutine so a slow subscriber cannot block the core path.
func (s *Store) RecordEvent(event *pkg.Event) {
	if event == nil {
		return
	}
	s.mu.Lock()
	s.events.add(event)
	callback := s.eventCallback
	s.mu.Unlock()

	if callback != nil {
		go callback(event)
	}
}

// IncrementCounter implements pkg.TelemetrySink
func (s *Store) IncrementCounter(name string) {
	s.mu.Lock()
	s.counters[name]++
	s.mu.Unlock()
}

// Counter returns the current value of a named counter
func (s *Store) Counter(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

// GetEvents returns events newer than since, newest-last, capped by limit
func (s *Store) GetEvents(since time.Time, limit int) []*pkg.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events.since(since)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// SetEventCallback installs a subscriber invoked for every recorded event
func (s *Store) SetEventCallback(callback func(*pkg.Event)) {
	s.mu.Lock()
	s.eventCallback = callback
	s.mu.Unlock()
}

// Cleanup drops data older than the retention window
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Store) maybeCleanupLocked() {
	if time.Since(s.lastCleanup) < time.Hour {
		return
	}
	s.cleanupLocked()
}

func (s *Store) cleanupLocked() {
	cutoff := time.Now().Add(-time.Duration(s.retentionHours) * time.Hour)
	for key, ring := range s.samples {
		ring.dropBefore(cutoff)
		if ring.size == 0 {
			delete(s.samples, key)
		}
	}
	s.events.dropBefore(cutoff)
	s.lastCleanup = time.Now()
}

// Close releases all buffered data
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = make(map[string]*sampleRing)
	s.events = newEventRing(0)
	return nil
}

// sampleRing is a fixed-capacity ring of samples ordered by insertion
type sampleRing struct {
	data     []*Sample
	capacity int
	head     int
	size     int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{data: make([]*Sample, capacity), capacity: capacity}
}

func (r *sampleRing) add(sample *Sample) {
	if r.capacity == 0 {
		return
	}
	idx := (r.head + r.size) % r.capacity
	r.data[idx] = sample
	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

func (r *sampleRing) since(since time.Time) []*Sample {
	var out []*Sample
	for i := 0; i < r.size; i++ {
		item := r.data[(r.head+i)%r.capacity]
		if item.Timestamp.After(since) {
			out = append(out, item)
		}
	}
	return out
}

func (r *sampleRing) dropBefore(cutoff time.Time) {
	for r.size > 0 {
		item := r.data[r.head]
		if item.Timestamp.After(cutoff) {
			return
		}
		r.data[r.head] = nil
		r.head = (r.head + 1) % r.capacity
		r.size--
	}
}

// eventRing is the same structure for events
type eventRing struct {
	data     []*pkg.Event
	capacity int
	head     int
	size     int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{data: make([]*pkg.Event, capacity), capacity: capacity}
}

func (r *eventRing) add(event *pkg.Event) {
	if r.capacity == 0 {
		return
	}
	idx := (r.head + r.size) % r.capacity
	r.data[idx] = event
	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

func (r *eventRing) since(since time.Time) []*pkg.Event {
	var out []*pkg.Event
	for i := 0; i < r.size; i++ {
		item := r.data[(r.head+i)%r.capacity]
		if item.Timestamp.After(since) {
			out = append(out, item)
		}
	}
	return out
}

func (r *eventRing) dropBefore(cutoff time.Time) {
	for r.size > 0 {
		item := r.data[r.head]
		if item.Timestamp.After(cutoff) {
			return
		}
		r.data[r.head] = nil
		r.head = (r.head + 1) % r.capacity
		r.size--
	}
}
