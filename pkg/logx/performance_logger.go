package logx

import (
	"sync"
	"time"
)

// PerformanceLogger tracks how long decision core stages take. The selector
// wraps each selection round and each scorer invocation with it so slow
// rounds show up in the logs without a profiler attached.
type PerformanceLogger struct {
	logger *Logger

	mu      sync.RWMutex
	metrics map[string]*PerformanceMetric
}

// PerformanceMetric aggregates durations for one named operation
type PerformanceMetric struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	ErrorCount    int64         `json:"error_count"`
	LastExecuted  time.Time     `json:"last_executed"`
}

// Operation is an in-flight tracked operation
type Operation struct {
	name    string
	started time.Time
	parent  *PerformanceLogger
}

// NewPerformanceLogger creates a new performance tracker
func NewPerformanceLogger(logger *Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger:  logger,
		metrics: make(map[string]*PerformanceMetric),
	}
}

// Start begins tracking one operation
func (pl *PerformanceLogger) Start(name string) *Operation {
	return &Operation{name: name, started: time.Now(), parent: pl}
}

// Complete finishes the operation and records its duration
func (op *Operation) Complete(err error) {
	duration := time.Since(op.started)
	pl := op.parent

	pl.mu.Lock()
	metric, exists := pl.metrics[op.name]
	if !exists {
		metric = &PerformanceMetric{Name: op.name, MinDuration: duration}
		pl.metrics[op.name] = metric
	}
	metric.Count++
	metric.TotalDuration += duration
	metric.LastExecuted = time.Now()
	if duration < metric.MinDuration {
		metric.MinDuration = duration
	}
	if duration > metric.MaxDuration {
		metric.MaxDuration = duration
	}
	metric.AvgDuration = metric.TotalDuration / time.Duration(metric.Count)
	if err != nil {
		metric.ErrorCount++
	}
	slow := duration > 100*time.Millisecond
	pl.mu.Unlock()

	if err != nil {
		pl.logger.Error("Operation failed", "operation", op.name, "duration", duration.String(), "error", err)
	} else if slow {
		pl.logger.Warn("Slow operation", "operation", op.name, "duration", duration.String())
	}
}

// GetMetric returns a copy of one metric, or nil
func (pl *PerformanceLogger) GetMetric(name string) *PerformanceMetric {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	metric, exists := pl.metrics[name]
	if !exists {
		return nil
	}
	copied := *metric
	return &copied
}

// LogSummary logs all aggregated metrics
func (pl *PerformanceLogger) LogSummary() {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	for name, metric := range pl.metrics {
		pl.logger.Info("Performance metric summary",
			"operation", name,
			"count", metric.Count,
			"avg_duration", metric.AvgDuration.String(),
			"max_duration", metric.MaxDuration.String(),
			"errors", metric.ErrorCount,
		)
	}
}
