package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Sink exports decision core state as Prometheus metrics. It implements
// pkg.TelemetrySink for the event/counter stream and exposes gauges the
// daemon poll loop sets directly.
type Sink struct {
	logger   *logx.Logger
	registry *prometheus.Registry
	server   *http.Server

	events   *prometheus.CounterVec
	counters *prometheus.CounterVec

	currentRssi       prometheus.Gauge
	predictedTputMbps prometheus.Gauge
	l2TputKbps        prometheus.Gauge
	l3TputKbps        prometheus.Gauge
	blocklistSize     prometheus.Gauge
	tputSufficient    prometheus.Gauge
	candidateCount    prometheus.Gauge
	selectionRounds   prometheus.Counter
}

// NewSink creates a sink with its own registry
func NewSink(logger *logx.Logger) *Sink {
	s := &Sink{
		logger:   logger.WithComponent("metrics"),
		registry: prometheus.NewRegistry(),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roamcore_events_total",
			Help: "Decision core events by type",
		}, []string{"type"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roamcore_counters_total",
			Help: "Decision core named counters",
		}, []string{"name"}),

		currentRssi: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_current_rssi_dbm",
			Help: "RSSI of the current association in dBm",
		}),
		predictedTputMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_predicted_throughput_mbps",
			Help: "Predicted throughput of the current association in Mbps",
		}),
		l2TputKbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_l2_throughput_kbps",
			Help: "Estimated link layer throughput in kbps",
		}),
		l3TputKbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_l3_throughput_kbps",
			Help: "Measured IP goodput in kbps",
		}),
		blocklistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_blocklist_size",
			Help: "Number of BSSIDs with tracked failures",
		}),
		tputSufficient: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_throughput_sufficient",
			Help: "1 when current throughput is judged sufficient",
		}),
		candidateCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roamcore_selection_candidates",
			Help: "Candidates surviving the most recent selection round",
		}),
		selectionRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roamcore_selection_rounds_total",
			Help: "Selection rounds attempted",
		}),
	}

	s.registry.MustRegister(
		s.events, s.counters,
		s.currentRssi, s.predictedTputMbps, s.l2TputKbps, s.l3TputKbps,
		s.blocklistSize, s.tputSufficient, s.candidateCount, s.selectionRounds,
	)
	return s
}

// RecordEvent implements pkg.TelemetrySink
func (s *Sink) RecordEvent(event *pkg.Event) {
	if event == nil {
		return
	}
	s.events.WithLabelValues(string(event.Type)).Inc()
}

// IncrementCounter implements pkg.TelemetrySink
func (s *Sink) IncrementCounter(name string) {
	s.counters.WithLabelValues(name).Inc()
}

// SetLinkState publishes the per-poll link gauges
func (s *Sink) SetLinkState(rssiDbm, predictedTputMbps int, l2TputKbps, l3TputKbps int64, sufficient bool) {
	s.currentRssi.Set(float64(rssiDbm))
	s.predictedTputMbps.Set(float64(predictedTputMbps))
	s.l2TputKbps.Set(float64(l2TputKbps))
	s.l3TputKbps.Set(float64(l3TputKbps))
	if sufficient {
		s.tputSufficient.Set(1)
	} else {
		s.tputSufficient.Set(0)
	}
}

// SetBlocklistSize publishes the blocklist gauge
func (s *Sink) SetBlocklistSize(n int) {
	s.blocklistSize.Set(float64(n))
}

// ObserveSelectionRound publishes per-round selector state
func (s *Sink) ObserveSelectionRound(candidates int) {
	s.selectionRounds.Inc()
	s.candidateCount.Set(float64(candidates))
}

// Serve exposes /metrics on addr until Shutdown. Blocks; run it on its
// own goroutine.
func (s *Sink) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Metrics listener starting", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics listener failed: %w", err)
	}
	return nil
}

// Shutdown stops the metrics listener
func (s *Sink) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
