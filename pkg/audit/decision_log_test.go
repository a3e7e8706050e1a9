package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

func newTestLog(t *testing.T, retentionHours int) *DecisionLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	dl, err := NewDecisionLog(path, retentionHours, logx.NewLogger("error", "test"))
	if err != nil {
		t.Fatalf("NewDecisionLog: %v", err)
	}
	t.Cleanup(func() { dl.Close() })
	return dl
}

func TestAppendAndRecent(t *testing.T) {
	dl := newTestLog(t, 24)
	base := time.Now()

	for i := 0; i < 5; i++ {
		err := dl.Append(&Record{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Kind:      "network_selected",
			Ssid:      "home",
			Reason:    "round",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := dl.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	// Newest first
	if !records[0].Timestamp.After(records[1].Timestamp) {
		t.Error("Recent records not in newest-first order")
	}
}

func TestSince(t *testing.T) {
	dl := newTestLog(t, 24)
	base := time.Now()

	for i := 0; i < 5; i++ {
		dl.Append(&Record{Timestamp: base.Add(time.Duration(i) * time.Second), Kind: "selection_skipped"})
	}

	records, err := dl.Since(base.Add(2500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records since cutoff, got %d", len(records))
	}
	// Oldest first
	if !records[1].Timestamp.After(records[0].Timestamp) {
		t.Error("Since records not in oldest-first order")
	}
}

func TestSameInstantRecordsDoNotCollide(t *testing.T) {
	dl := newTestLog(t, 24)
	ts := time.Now()

	for i := 0; i < 10; i++ {
		if err := dl.Append(&Record{Timestamp: ts, Kind: "data_stall"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	records, err := dl.Recent(100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 10 {
		t.Errorf("Expected 10 records, got %d", len(records))
	}
}

func TestPrune(t *testing.T) {
	dl := newTestLog(t, 1)

	dl.Append(&Record{Timestamp: time.Now().Add(-2 * time.Hour), Kind: "old"})
	dl.Append(&Record{Timestamp: time.Now().Add(-90 * time.Minute), Kind: "old"})
	dl.Append(&Record{Timestamp: time.Now(), Kind: "fresh"})

	deleted, err := dl.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 records pruned, got %d", deleted)
	}

	records, err := dl.Recent(100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 || records[0].Kind != "fresh" {
		t.Errorf("Expected only the fresh record, got %+v", records)
	}
}

func TestCountersPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	logger := logx.NewLogger("error", "test")

	dl, err := NewDecisionLog(path, 24, logger)
	if err != nil {
		t.Fatalf("NewDecisionLog: %v", err)
	}
	dl.IncrementCounter("network_selected")
	dl.IncrementCounter("network_selected")
	dl.IncrementCounter("data_stall")
	dl.Flush()
	if got := dl.Counter("network_selected"); got != 2 {
		t.Errorf("Expected counter 2, got %d", got)
	}
	dl.Close()

	// Counters survive a restart
	reopened, err := NewDecisionLog(path, 24, logger)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Counter("network_selected"); got != 2 {
		t.Errorf("Expected persisted counter 2, got %d", got)
	}
	if got := reopened.Counter("missing"); got != 0 {
		t.Errorf("Expected 0 for an unknown counter, got %d", got)
	}
}

func TestSinkWritesAreDeferred(t *testing.T) {
	dl := newTestLog(t, 24)

	// Sink calls enqueue only; nothing is committed until the writer
	// goroutine runs. Flush forces the commit deterministically.
	for i := 0; i < 50; i++ {
		dl.RecordEvent(&pkg.Event{
			ID:        "evt",
			Type:      pkg.EventDataStall,
			Timestamp: time.Now(),
		})
		dl.IncrementCounter("data_stall")
	}
	dl.Flush()

	records, err := dl.Recent(100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 50 {
		t.Errorf("Expected 50 records after flush, got %d", len(records))
	}
	if got := dl.Counter("data_stall"); got != 50 {
		t.Errorf("Expected counter 50 after flush, got %d", got)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	logger := logx.NewLogger("error", "test")

	dl, err := NewDecisionLog(path, 24, logger)
	if err != nil {
		t.Fatalf("NewDecisionLog: %v", err)
	}
	dl.IncrementCounter("network_selected")
	dl.RecordEvent(&pkg.Event{ID: "evt", Type: pkg.EventNetworkSelected, Timestamp: time.Now()})
	if err := dl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDecisionLog(path, 24, logger)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Counter("network_selected"); got != 1 {
		t.Errorf("Expected queued counter committed on close, got %d", got)
	}
	records, err := reopened.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected queued record committed on close, got %d", len(records))
	}
}

func TestRecordEventBecomesRecord(t *testing.T) {
	dl := newTestLog(t, 24)

	dl.RecordEvent(&pkg.Event{
		ID:        "block_1",
		Type:      pkg.EventBssidBlocked,
		Timestamp: time.Now(),
		Ssid:      "home",
		Bssid:     "aa:bb:cc:dd:ee:01",
		Reason:    "wrong_password",
		Data:      map[string]interface{}{"duration_ms": float64(300000)},
	})
	dl.Flush()

	records, err := dl.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatal("Expected the event to be persisted")
	}
	rec := records[0]
	if rec.Kind != string(pkg.EventBssidBlocked) {
		t.Errorf("Expected kind %s, got %s", pkg.EventBssidBlocked, rec.Kind)
	}
	if rec.Bssid != "aa:bb:cc:dd:ee:01" || rec.Reason != "wrong_password" {
		t.Errorf("Event fields lost: %+v", rec)
	}
}
