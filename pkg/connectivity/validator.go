package connectivity

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Result is the outcome of one validation attempt
type Result struct {
	Success    bool          `json:"success"`
	Target     string        `json:"target"`
	RTT        time.Duration `json:"rtt"`
	PacketLoss float64       `json:"packet_loss"`
	Error      string        `json:"error,omitempty"`
}

// Validator probes internet reachability after an association completes.
// Its verdict feeds the blocklist monitor: repeated validation failures on
// a BSSID mean the AP associates fine but goes nowhere.
type Validator struct {
	logger    *logx.Logger
	telemetry pkg.TelemetrySink

	targets    []string
	timeout    time.Duration
	probeCount int
}

// NewValidator creates a validator probing the given targets in order.
// Empty targets fall back to well-known anycast resolvers.
func NewValidator(targets []string, timeout time.Duration, telemetry pkg.TelemetrySink, logger *logx.Logger) *Validator {
	if len(targets) == 0 {
		targets = []string{"8.8.8.8", "1.1.1.1"}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if telemetry == nil {
		telemetry = pkg.NopTelemetrySink{}
	}
	return &Validator{
		logger:     logger.WithComponent("connectivity"),
		telemetry:  telemetry,
		targets:    targets,
		timeout:    timeout,
		probeCount: 3,
	}
}

// Validate probes the targets in order; the first reachable one wins. The
// returned result carries the failing detail when nothing answered.
func (v *Validator) Validate(ctx context.Context) *Result {
	var last *Result
	for _, target := range v.targets {
		result := v.probe(ctx, target)
		if result.Success {
			v.telemetry.IncrementCounter("validation_success")
			v.telemetry.RecordEvent(&pkg.Event{
				ID:        fmt.Sprintf("validate_%s_%d", target, time.Now().UnixNano()),
				Type:      pkg.EventValidationSuccess,
				Timestamp: time.Now(),
				Data: map[string]interface{}{
					"target": target,
					"rtt_ms": result.RTT.Milliseconds(),
				},
			})
			return result
		}
		last = result
		if ctx.Err() != nil {
			break
		}
	}

	v.telemetry.IncrementCounter("validation_failure")
	v.telemetry.RecordEvent(&pkg.Event{
		ID:        fmt.Sprintf("validate_fail_%d", time.Now().UnixNano()),
		Type:      pkg.EventValidationFailure,
		Timestamp: time.Now(),
		Reason:    last.Error,
	})
	return last
}

// probe pings a single target
func (v *Validator) probe(ctx context.Context, target string) *Result {
	result := &Result{Target: target, PacketLoss: 100.0}

	pinger, err := probing.NewPinger(target)
	if err != nil {
		v.logger.Error("Failed to create pinger", "target", target, "error", err)
		result.Error = err.Error()
		return result
	}
	pinger.SetPrivileged(true)
	pinger.Count = v.probeCount
	pinger.Timeout = v.timeout
	pinger.Interval = 200 * time.Millisecond

	if err := pinger.RunWithContext(ctx); err != nil {
		v.logger.Debug("Ping failed", "target", target, "error", err)
		result.Error = err.Error()
		return result
	}

	stats := pinger.Statistics()
	result.PacketLoss = stats.PacketLoss
	result.RTT = stats.AvgRtt
	result.Success = stats.PacketsRecv > 0
	if !result.Success {
		result.Error = "no replies"
	}

	v.logger.LogDebugVerbose("Validation probe", map[string]interface{}{
		"target":      target,
		"sent":        stats.PacketsSent,
		"received":    stats.PacketsRecv,
		"packet_loss": stats.PacketLoss,
		"avg_rtt_ms":  stats.AvgRtt.Milliseconds(),
	})
	return result
}
