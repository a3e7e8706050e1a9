package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Bucket names for the bbolt database
const (
	RecordsBucket  = "records"
	CountersBucket = "counters"
)

// Record is one persisted decision trail entry. Selection results, skipped
// rounds, blocklist actions and stall signals all land here so a support
// session can reconstruct what the device decided and why.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	RecordID  string                 `json:"record_id"`
	Kind      string                 `json:"kind"`
	Ssid      string                 `json:"ssid,omitempty"`
	Bssid     string                 `json:"bssid,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// DecisionLog is the on-disk audit trail. It implements pkg.TelemetrySink
// so it can hang off the same fan-out as the in-RAM store; events become
// records, counters accumulate in their own bucket across restarts.
// Sink calls never touch the database themselves: they enqueue onto a
// bounded channel and a single writer goroutine batches the commits, so
// the decision path never waits on an fsync.
type DecisionLog struct {
	mu     sync.Mutex
	logger *logx.Logger
	db     *bolt.DB

	retention time.Duration

	ops       chan sinkOp
	flushReq  chan chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// sinkOp is one queued write: either a record or a counter bump
type sinkOp struct {
	record  *Record
	counter string
}

// sinkQueueSize bounds the write queue; overflow drops, never blocks
const sinkQueueSize = 256

// sinkBatchMax caps how many queued ops one transaction absorbs
const sinkBatchMax = 64

// NewDecisionLog opens (or creates) the audit database at path
func NewDecisionLog(path string, retentionHours int, logger *logx.Logger) (*DecisionLog, error) {
	if retentionHours <= 0 {
		retentionHours = 72
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	dl := &DecisionLog{
		logger:    logger.WithComponent("audit"),
		db:        db,
		retention: time.Duration(retentionHours) * time.Hour,
		ops:       make(chan sinkOp, sinkQueueSize),
		flushReq:  make(chan chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if err := dl.initializeBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit buckets: %w", err)
	}
	go dl.writeLoop()
	return dl, nil
}

func (dl *DecisionLog) initializeBuckets() error {
	return dl.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{RecordsBucket, CountersBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Append persists one record. Keys are nanosecond timestamps with a
// sequence suffix, so cursor order is time order and same-instant records
// never collide.
func (dl *DecisionLog) Append(rec *Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket([]byte(RecordsBucket)), rec.Timestamp, value)
	})
}

// putRecord writes one marshalled record under a fresh time+sequence key
func putRecord(bucket *bolt.Bucket, ts time.Time, value []byte) error {
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], seq)
	return bucket.Put(key, value)
}

// Recent returns up to limit records, newest first
func (dl *DecisionLog) Recent(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*Record
	err := dl.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(RecordsBucket)).Cursor()
		for k, v := cursor.Last(); k != nil && len(out) < limit; k, v = cursor.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// Since returns all records at or after t, oldest first
func (dl *DecisionLog) Since(t time.Time) ([]*Record, error) {
	seek := make([]byte, 8)
	binary.BigEndian.PutUint64(seek, uint64(t.UnixNano()))

	var out []*Record
	err := dl.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(RecordsBucket)).Cursor()
		for k, v := cursor.Seek(seek); k != nil; k, v = cursor.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// Prune removes records older than the retention window, returning how
// many were deleted
func (dl *DecisionLog) Prune() (int, error) {
	cutoff := make([]byte, 8)
	binary.BigEndian.PutUint64(cutoff, uint64(time.Now().Add(-dl.retention).UnixNano()))

	dl.mu.Lock()
	defer dl.mu.Unlock()
	deleted := 0
	err := dl.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(RecordsBucket)).Cursor()
		for k, _ := cursor.First(); k != nil && len(k) >= 8; k, _ = cursor.First() {
			if binary.BigEndian.Uint64(k[0:8]) >= binary.BigEndian.Uint64(cutoff) {
				break
			}
			if err := cursor.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if deleted > 0 {
		dl.logger.Debug("Pruned audit records", "deleted", deleted)
	}
	return deleted, err
}

// Counter returns the persisted value of a counter
func (dl *DecisionLog) Counter(name string) int64 {
	var value int64
	dl.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(CountersBucket)).Get([]byte(name))
		if len(raw) == 8 {
			value = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	return value
}

// RecordEvent implements pkg.TelemetrySink. It only enqueues; the writer
// goroutine persists.
func (dl *DecisionLog) RecordEvent(event *pkg.Event) {
	if event == nil {
		return
	}
	dl.enqueue(sinkOp{record: &Record{
		Timestamp: event.Timestamp,
		RecordID:  event.ID,
		Kind:      string(event.Type),
		Ssid:      event.Ssid,
		Bssid:     event.Bssid,
		Reason:    event.Reason,
		Details:   event.Data,
	}})
}

// IncrementCounter implements pkg.TelemetrySink
func (dl *DecisionLog) IncrementCounter(name string) {
	dl.enqueue(sinkOp{counter: name})
}

// enqueue hands an op to the writer goroutine; a full queue drops the op
func (dl *DecisionLog) enqueue(op sinkOp) {
	select {
	case dl.ops <- op:
	default:
		dl.logger.Warn("Audit write queue full, dropping entry")
	}
}

// Flush blocks until every op enqueued before the call has been committed
func (dl *DecisionLog) Flush() {
	ack := make(chan struct{})
	select {
	case dl.flushReq <- ack:
		<-ack
	case <-dl.done:
	}
}

// writeLoop is the single database writer for the sink path. It greedily
// drains the queue so a burst of events costs one transaction, not one
// fsync each.
func (dl *DecisionLog) writeLoop() {
	defer close(dl.done)
	for {
		select {
		case op := <-dl.ops:
			dl.applyBatch(dl.drainQueued([]sinkOp{op}))
		case ack := <-dl.flushReq:
			dl.drainAll()
			close(ack)
		case <-dl.quit:
			dl.drainAll()
			return
		}
	}
}

// drainAll commits everything currently queued, batch by batch
func (dl *DecisionLog) drainAll() {
	for {
		batch := dl.drainQueued(nil)
		if len(batch) == 0 {
			return
		}
		dl.applyBatch(batch)
	}
}

// drainQueued appends whatever is already queued, up to the batch cap
func (dl *DecisionLog) drainQueued(batch []sinkOp) []sinkOp {
	for len(batch) < sinkBatchMax {
		select {
		case op := <-dl.ops:
			batch = append(batch, op)
		default:
			return batch
		}
	}
	return batch
}

// applyBatch commits a batch of queued ops in one transaction
func (dl *DecisionLog) applyBatch(batch []sinkOp) {
	if len(batch) == 0 {
		return
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	err := dl.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(RecordsBucket))
		counters := tx.Bucket([]byte(CountersBucket))
		for _, op := range batch {
			if op.record != nil {
				rec := op.record
				if rec.Timestamp.IsZero() {
					rec.Timestamp = time.Now()
				}
				value, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				if err := putRecord(records, rec.Timestamp, value); err != nil {
					return err
				}
				continue
			}
			var value uint64
			if raw := counters.Get([]byte(op.counter)); len(raw) == 8 {
				value = binary.BigEndian.Uint64(raw)
			}
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, value+1)
			if err := counters.Put([]byte(op.counter), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		dl.logger.Warn("Failed to persist audit batch", "size", len(batch), "error", err)
	}
}

// Close drains the write queue, stops the writer and closes the database
func (dl *DecisionLog) Close() error {
	dl.closeOnce.Do(func() { close(dl.quit) })
	<-dl.done
	return dl.db.Close()
}
