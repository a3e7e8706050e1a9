package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/audit"
	"github.com/markus-lassfolk/roamcore/pkg/blocklist"
	"github.com/markus-lassfolk/roamcore/pkg/config"
	"github.com/markus-lassfolk/roamcore/pkg/connectivity"
	"github.com/markus-lassfolk/roamcore/pkg/datastall"
	"github.com/markus-lassfolk/roamcore/pkg/history"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
	"github.com/markus-lassfolk/roamcore/pkg/metrics"
	"github.com/markus-lassfolk/roamcore/pkg/mqtt"
	"github.com/markus-lassfolk/roamcore/pkg/netstats"
	"github.com/markus-lassfolk/roamcore/pkg/pidfile"
	"github.com/markus-lassfolk/roamcore/pkg/predictive"
	"github.com/markus-lassfolk/roamcore/pkg/radio"
	"github.com/markus-lassfolk/roamcore/pkg/selector"
	"github.com/markus-lassfolk/roamcore/pkg/store"
	"github.com/markus-lassfolk/roamcore/pkg/telem"
	"github.com/markus-lassfolk/roamcore/pkg/throughput"
)

var (
	configPath = flag.String("config", "/etc/roamcore/roamcore.toml", "Path to configuration file")
	pidPath    = flag.String("pid-file", "/run/roamcore/roamcored.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (equivalent to trace level)")
	dryRun     = flag.Bool("dry-run", false, "Evaluate and log decisions without writing the selection file")
	force      = flag.Bool("force", false, "Force start by removing stale PID file")
)

const (
	AppName    = "roamcored"
	AppVersion = "1.0.0"
)

// HeartbeatData is written to /run/roamcore/roamcored.health every 10s
type HeartbeatData struct {
	Timestamp  string  `json:"ts"`
	UptimeS    int64   `json:"uptime_s"`
	Version    string  `json:"version"`
	MemMB      float64 `json:"mem_mb"`
	Goroutines int     `json:"goroutines"`
}

// nopController is the firmware control stub used until a platform shim
// registers a real one; it accepts deny list pushes and logs them.
type nopController struct {
	logger *logx.Logger
}

func (n *nopController) IsFirmwareRoamingSupported() bool { return true }
func (n *nopController) MaxDenyListSize() int             { return 16 }
func (n *nopController) PushDenyList(ssid pkg.Ssid, bssids []pkg.Bssid) bool {
	n.logger.Info("Deny list push", "ssid", string(ssid), "size", len(bssids))
	return true
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	effectiveLogLevel := "info"
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	if *verbose {
		effectiveLogLevel = "trace"
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)

	pidFile := pidfile.New(*pidPath)
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err)
		os.Exit(1)
	}
	if running {
		if *force {
			logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
			if err := pidFile.ForceRemove(); err != nil {
				logger.Error("Failed to remove existing PID file", "error", err)
				os.Exit(1)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			os.Exit(1)
		}
	}
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting roamcore daemon", "version", AppVersion, "pid", os.Getpid())

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *logLevel == "" && !*verbose {
		logger.SetLevel(cfg.LogLevel)
	}
	if !cfg.Enable {
		logger.Info("Daemon disabled by configuration, exiting")
		return
	}
	if *dryRun {
		logger.Info("Dry-run mode enabled: selections will be logged, not applied")
	}

	telemetry, err := telem.NewStore(cfg.RetentionHours, cfg.MaxRAMMB)
	if err != nil {
		logger.Error("Failed to initialize telemetry store", "error", err)
		os.Exit(1)
	}
	defer telemetry.Close()

	auditLog, err := audit.NewDecisionLog(cfg.AuditPath, cfg.HistoryRetentionDays*24, logger)
	if err != nil {
		logger.Error("Failed to open audit log", "error", err, "path", cfg.AuditPath)
		os.Exit(1)
	}
	defer auditLog.Close()

	historyDB, err := history.NewDatabase(&history.DatabaseConfig{
		DatabasePath:    cfg.HistoryPath,
		MaxObservations: cfg.AuditMaxRecords * 10,
		RetentionDays:   cfg.HistoryRetentionDays,
	}, logger)
	if err != nil {
		logger.Error("Failed to open observation database", "error", err, "path", cfg.HistoryPath)
		os.Exit(1)
	}
	defer historyDB.Close()

	sinks := pkg.MultiSink{telemetry, auditLog}

	var metricsSink *metrics.Sink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewSink(logger)
		sinks = append(sinks, metricsSink)
		go func() {
			if err := metricsSink.Serve(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
				logger.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	var mqttClient *mqtt.Client
	if cfg.MQTTEnabled {
		mqttClient = mqtt.NewClient(&mqtt.Config{
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         cfg.MQTTQoS,
			Enabled:     true,
		}, logger)
		if err := mqttClient.Connect(); err != nil {
			logger.Error("Failed to connect to MQTT broker", "error", err)
			// MQTT is optional, keep going
		} else {
			sinks = append(sinks, mqttClient)
			defer mqttClient.Disconnect()
		}
	}

	clock := netstats.SystemClock{}
	netReader := netstats.NewReader(cfg.Interface, logger)
	configStore, err := store.NewFileStore(cfg.NetworksPath, clock, logger)
	if err != nil {
		logger.Error("Failed to load networks file", "error", err, "path", cfg.NetworksPath)
		os.Exit(1)
	}
	radioDev := radio.NewFileRadio(cfg.ScanPath, cfg.LinkPath, cfg.StatsPath, logger)

	predictor := throughput.NewPredictor(pkg.DefaultDeviceCapabilities(), logger)
	controller := &nopController{logger: logger.WithComponent("controller")}
	blockMonitor := blocklist.NewMonitor(cfg, clock, controller, sinks, logger)
	stallDetector := datastall.NewDetector(cfg, clock, nil, sinks, logger)
	trendAnalyzer := predictive.NewSignalTrendAnalyzer(nil, logger)

	netSelector := selector.NewNetworkSelector(cfg, clock, configStore, predictor, sinks, logger)
	netSelector.SetForecaster(trendAnalyzer)

	validator := connectivity.NewValidator(
		cfg.ValidationTargets,
		time.Duration(cfg.ValidationTimeoutS)*time.Second,
		sinks, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	startTime := time.Now()
	go writeHeartbeat(ctx, startTime, logger)

	d := &daemon{
		cfg:           cfg,
		logger:        logger,
		clock:         clock,
		telemetry:     telemetry,
		sinks:         sinks,
		auditLog:      auditLog,
		historyDB:     historyDB,
		metricsSink:   metricsSink,
		mqttClient:    mqttClient,
		netReader:     netReader,
		configStore:   configStore,
		radio:         radioDev,
		predictor:     predictor,
		blockMonitor:  blockMonitor,
		stallDetector: stallDetector,
		trendAnalyzer: trendAnalyzer,
		selector:      netSelector,
		validator:     validator,
		dryRun:        *dryRun,
	}
	go d.run(ctx)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsSink != nil {
		if err := metricsSink.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics listener shutdown failed", "error", err)
		}
	}
	if err := configStore.Save(); err != nil {
		logger.Warn("Failed to persist networks file", "error", err)
	}
	netSelector.Performance().LogSummary()
	logger.Info("Graceful shutdown completed")
}

// daemon holds the wired subsystems driving the poll loop
type daemon struct {
	cfg           *config.Config
	logger        *logx.Logger
	clock         pkg.Clock
	telemetry     *telem.Store
	sinks         pkg.MultiSink
	auditLog      *audit.DecisionLog
	historyDB     *history.Database
	metricsSink   *metrics.Sink
	mqttClient    *mqtt.Client
	netReader     *netstats.Reader
	configStore   *store.FileStore
	radio         pkg.Radio
	predictor     *throughput.Predictor
	blockMonitor  *blocklist.Monitor
	stallDetector *datastall.Detector
	trendAnalyzer *predictive.SignalTrendAnalyzer
	selector      *selector.NetworkSelector
	validator     *connectivity.Validator
	dryRun        bool

	prevStats *pkg.LinkLayerStats
	lastLink  *pkg.WifiLinkInfo
}

// run is the main loop: fast link polls, slower selection rounds,
// validation probes and housekeeping
func (d *daemon) run(ctx context.Context) {
	pollTicker := time.NewTicker(time.Duration(d.cfg.PollIntervalMS) * time.Millisecond)
	scanTicker := time.NewTicker(time.Duration(d.cfg.ScanIntervalMS) * time.Millisecond)
	validationTicker := time.NewTicker(time.Duration(d.cfg.ValidationIntervalS) * time.Second)
	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer pollTicker.Stop()
	defer scanTicker.Stop()
	defer validationTicker.Stop()
	defer cleanupTicker.Stop()

	d.logger.Info("Main loop starting",
		"poll_interval_ms", d.cfg.PollIntervalMS,
		"scan_interval_ms", d.cfg.ScanIntervalMS,
		"interface", d.cfg.Interface)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Main loop stopped")
			return
		case <-pollTicker.C:
			d.pollLink()
		case <-scanTicker.C:
			d.runSelection()
		case <-validationTicker.C:
			d.validate(ctx)
		case <-cleanupTicker.C:
			d.housekeeping()
		}
	}
}

// pollLink refreshes link state and feeds the stall detector, trend
// analyzer and telemetry
func (d *daemon) pollLink() {
	link, err := d.radio.LinkInfo()
	if err != nil {
		d.logger.Warn("Failed to read link info", "error", err)
		return
	}
	if link != nil {
		if err := d.netReader.FillLinkInfo(link); err != nil {
			d.logger.Debug("Byte counters unavailable", "error", err)
		}
	}

	stats, err := d.radio.LinkLayerStats()
	if err != nil {
		d.logger.Debug("Link layer stats unavailable", "error", err)
	}

	signal := d.stallDetector.Update(d.prevStats, stats, link)
	d.prevStats = stats
	d.lastLink = link

	if link == nil {
		return
	}

	d.trendAnalyzer.AddSample(link.Bssid, link.RssiDbm, d.clock.ElapsedSinceBootMillis())

	predicted := 0
	if nc := d.configStore.GetConfiguredNetwork(link.NetworkID); nc != nil && nc.CandidateEntry != nil {
		predicted = d.predictor.PredictForEntry(nc.CandidateEntry, pkg.UnknownUtilization, false)
	}

	key := pkg.NetworkKey{Ssid: link.Ssid, Security: pkg.SecurityPsk}
	if nc := d.configStore.GetConfiguredNetwork(link.NetworkID); nc != nil {
		key = pkg.NetworkKey{Ssid: nc.Ssid, Security: nc.Security}
	}
	if err := d.telemetry.AddSample(&telem.Sample{
		Key:               key.String(),
		Timestamp:         time.Now(),
		Link:              link,
		Stats:             stats,
		PredictedTputMbps: predicted,
	}); err != nil {
		d.logger.Debug("Failed to record telemetry sample", "error", err)
	}

	if signal != datastall.SignalNone {
		if err := d.historyDB.RecordStall(link.Bssid, link.Ssid, signal.String(), link.RssiDbm, link.FrequencyMHz); err != nil {
			d.logger.Debug("Failed to record stall observation", "error", err)
		}
	}

	if d.metricsSink != nil {
		l2, l3 := d.stallDetector.LastThroughputKbps()
		d.metricsSink.SetLinkState(link.RssiDbm, predicted, l2, l3, d.stallDetector.IsThroughputSufficient())
		d.metricsSink.SetBlocklistSize(d.blockMonitor.Size())
	}
}

// runSelection runs one selection round over the latest scan
func (d *daemon) runSelection() {
	entries, err := d.radio.ScanResults()
	if err != nil {
		d.logger.Warn("Failed to read scan results", "error", err)
		return
	}

	connected := d.lastLink != nil
	chosen := d.selector.SelectNetwork(entries, d.blockMonitor.GetBlocklist(), d.lastLink, connected, !connected, false)
	if d.metricsSink != nil {
		d.metricsSink.ObserveSelectionRound(len(d.selector.LastCandidates()))
	}
	if chosen == nil {
		return
	}

	if d.mqttClient != nil {
		if err := d.mqttClient.PublishSelection(chosen); err != nil {
			d.logger.Warn("Failed to publish selection", "error", err)
		}
	}
	d.blockMonitor.PushToFirmware(chosen.Entry.Ssid)

	if d.dryRun {
		d.logger.Info("Dry run: selection not applied",
			"ssid", string(chosen.Entry.Ssid), "bssid", chosen.Entry.Bssid.String())
		return
	}
	if err := d.writeSelection(chosen); err != nil {
		d.logger.Error("Failed to write selection file", "error", err)
	}
}

// writeSelection hands the chosen network to the platform shim
func (d *daemon) writeSelection(chosen *pkg.ChosenNetwork) error {
	raw, err := json.MarshalIndent(chosen, "", "  ")
	if err != nil {
		return err
	}
	path := "/run/roamcore/selection.json"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// validate probes internet reachability and feeds the verdict to the
// blocklist monitor
func (d *daemon) validate(ctx context.Context) {
	link := d.lastLink
	if link == nil || !link.FullyEstablished {
		return
	}
	result := d.validator.Validate(ctx)
	if result.Success {
		d.blockMonitor.OnNetworkValidationSuccess(link.Bssid)
		if err := d.historyDB.RecordObservation(&history.Observation{
			Ssid: string(link.Ssid), Bssid: link.Bssid.String(),
			Outcome: history.OutcomeValidated, RssiDbm: link.RssiDbm, FrequencyMHz: link.FrequencyMHz,
		}); err != nil {
			d.logger.Debug("Failed to record validation observation", "error", err)
		}
		return
	}

	d.logger.Warn("Internet validation failed", "bssid", link.Bssid.String(), "error", result.Error)
	d.blockMonitor.OnConnectionFailure(link.Bssid, link.Ssid, blocklist.ReasonNetworkValidationFailure)
	if err := d.historyDB.RecordFailure(link.Bssid, link.Ssid, "validation_failure", link.RssiDbm, link.FrequencyMHz); err != nil {
		d.logger.Debug("Failed to record failure observation", "error", err)
	}
}

// housekeeping prunes the persistent stores and reloads the networks file
func (d *daemon) housekeeping() {
	if _, err := d.auditLog.Prune(); err != nil {
		d.logger.Warn("Audit prune failed", "error", err)
	}
	if err := d.historyDB.Cleanup(); err != nil {
		d.logger.Warn("History cleanup failed", "error", err)
	}
	d.telemetry.Cleanup()
	if err := d.configStore.Reload(); err != nil {
		d.logger.Warn("Networks reload failed", "error", err)
	}
}

// writeHeartbeat writes liveness info every 10 seconds
func writeHeartbeat(ctx context.Context, startTime time.Time, logger *logx.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			hb := HeartbeatData{
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
				UptimeS:    int64(time.Since(startTime).Seconds()),
				Version:    AppVersion,
				MemMB:      float64(memStats.Alloc) / 1024 / 1024,
				Goroutines: runtime.NumGoroutine(),
			}
			raw, err := json.Marshal(&hb)
			if err != nil {
				continue
			}
			if err := os.WriteFile("/run/roamcore/roamcored.health", raw, 0o644); err != nil {
				logger.Debug("Failed to write heartbeat", "error", err)
			}
		}
	}
}
