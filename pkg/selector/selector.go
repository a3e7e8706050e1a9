package selector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/config"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
	"github.com/markus-lassfolk/roamcore/pkg/throughput"
)

// Skip reasons recorded when a selection round bails before scoring
const (
	SkipEmptyScan         = "empty_scan"
	SkipInvalidState      = "invalid_state"
	SkipRoamDisabled      = "roam_disabled"
	SkipTooSoon           = "too_soon"
	SkipCurrentNotSeen    = "current_not_in_scan"
	SkipCurrentSufficient = "current_sufficient"
	SkipNoCandidates      = "no_candidates"
	SkipNoScore           = "no_score"
)

// maxConnectChoiceHops bounds the user connect-choice chain walk so a
// cyclic chain in the store cannot spin the round.
const maxConnectChoiceHops = 8

// Forecaster projects the near-future RSSI of a link. The predictive
// analyzer implements it; a nil forecaster disables the degradation gate.
type Forecaster interface {
	ForecastRssi(bssid pkg.Bssid, horizonMs int64) (float64, bool)
}

// NetworkSelector runs the full selection pipeline over a scan result:
// gate, filter, nominate, group, score, then the user connect-choice walk.
// One instance serves one radio; SelectNetwork is safe for concurrent use
// but callers normally drive it from a single poll loop.
type NetworkSelector struct {
	mu sync.Mutex

	logger    *logx.Logger
	perf      *logx.PerformanceLogger
	config    *config.Config
	clock     pkg.Clock
	store     pkg.ConfigStore
	predictor *throughput.Predictor
	telemetry pkg.TelemetrySink

	utilization pkg.UtilizationProvider
	forecaster  Forecaster

	scorers map[string]CandidateScorer

	bluetoothConnected bool

	// Round bookkeeping, also served to the diagnostics surface
	lastSelectionMs int64
	lastSkipReason  string
	lastCandidates  []*Candidate
	roundCounter    uint64
}

// NewNetworkSelector creates a selector with the built-in scorers
// registered. The store, clock and predictor are required; telemetry may
// be nil.
func NewNetworkSelector(cfg *config.Config, clock pkg.Clock, store pkg.ConfigStore, predictor *throughput.Predictor, telemetry pkg.TelemetrySink, logger *logx.Logger) *NetworkSelector {
	if telemetry == nil {
		telemetry = pkg.NopTelemetrySink{}
	}
	s := &NetworkSelector{
		logger:    logger.WithComponent("selector"),
		perf:      logx.NewPerformanceLogger(logger.WithComponent("selector")),
		config:    cfg,
		clock:     clock,
		store:     store,
		predictor: predictor,
		telemetry: telemetry,
		scorers:   make(map[string]CandidateScorer),
	}
	s.scorers["ThroughputScorer"] = NewThroughputScorer(cfg)
	s.scorers["RssiScorer"] = NewRssiScorer(cfg)
	return s
}

// Performance exposes stage timing aggregates for the diagnostics surface
func (s *NetworkSelector) Performance() *logx.PerformanceLogger {
	return s.perf
}

// SetUtilizationProvider wires the measured channel utilization source
func (s *NetworkSelector) SetUtilizationProvider(p pkg.UtilizationProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utilization = p
}

// SetForecaster wires the predictive degradation gate
func (s *NetworkSelector) SetForecaster(f Forecaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecaster = f
}

// SetBluetoothConnected records coexistence state for the 2.4 GHz
// utilization boost
func (s *NetworkSelector) SetBluetoothConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bluetoothConnected = connected
}

// RegisterScorer adds a scorer to the registry. Names are unique; the
// active one is chosen by configuration, every other registered scorer
// still runs for comparison metrics.
func (s *NetworkSelector) RegisterScorer(sc CandidateScorer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scorers[sc.Name()]; ok {
		return fmt.Errorf("scorer %s already registered", sc.Name())
	}
	s.scorers[sc.Name()] = sc
	return nil
}

// LastSkipReason returns why the most recent round made no selection,
// empty if it selected
func (s *NetworkSelector) LastSkipReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSkipReason
}

// LastCandidates returns the surviving candidates of the most recent round
func (s *NetworkSelector) LastCandidates() []*Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Candidate, len(s.lastCandidates))
	copy(out, s.lastCandidates)
	return out
}

// SelectNetwork runs one selection round. blocked holds the BSSIDs the
// blocklist monitor currently rejects. link describes the current
// association and may be nil when disconnected. Exactly one of connected
// and disconnected should be true; transitional states skip the round.
// Returns nil when the round decides to stay put.
func (s *NetworkSelector) SelectNetwork(entries []*pkg.ScanEntry, blocked map[pkg.Bssid]struct{}, link *pkg.WifiLinkInfo, connected, disconnected, untrustedAllowed bool) *pkg.ChosenNetwork {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := s.perf.Start("selection_round")
	defer op.Complete(nil)

	s.roundCounter++
	now := s.clock.ElapsedSinceBootMillis()

	if reason := s.gate(entries, link, connected, disconnected, now); reason != "" {
		s.skip(reason)
		return nil
	}

	filtered := s.filterScan(entries, blocked, link, connected)
	if connected && link != nil && !bssidSeen(filtered, link.Bssid) {
		s.skip(SkipCurrentNotSeen)
		return nil
	}
	if len(filtered) == 0 {
		s.skip(SkipNoCandidates)
		return nil
	}

	candidates := s.nominate(filtered, link, untrustedAllowed)
	if len(candidates) == 0 {
		s.skip(SkipNoCandidates)
		return nil
	}

	reps := groupByConfig(candidates)
	s.lastCandidates = reps

	chosen := s.score(reps)
	if chosen == nil {
		s.skip(SkipNoScore)
		return nil
	}

	final := s.followConnectChoice(chosen, reps)

	s.lastSelectionMs = now
	s.lastSkipReason = ""
	s.writeCandidateCaches(reps)

	result := &pkg.ChosenNetwork{
		Config:        final.Candidate.Config,
		Entry:         final.Candidate.Entry,
		Score:         final.Score,
		ScorerName:    s.config.ActiveScorer,
		NominatorName: final.Candidate.Nominator.String(),
		SelectedAt:    time.Now(),
	}

	s.logger.LogSelection(string(result.Entry.Ssid), result.Entry.Bssid.String(), result.ScorerName, result.Score, map[string]interface{}{
		"network_id": result.Config.NetworkID,
		"nominator":  result.NominatorName,
		"rssi":       result.Entry.RssiDbm,
		"tput_mbps":  final.Candidate.PredictedTputMbps,
		"metered":    final.Candidate.Metered,
		"candidates": len(reps),
		"round":      s.roundCounter,
	})
	s.telemetry.IncrementCounter("network_selected")
	s.telemetry.RecordEvent(&pkg.Event{
		ID:        fmt.Sprintf("select_%d_%d", s.roundCounter, now),
		Type:      pkg.EventNetworkSelected,
		Timestamp: time.Now(),
		Ssid:      string(result.Entry.Ssid),
		Bssid:     result.Entry.Bssid.String(),
		Data: map[string]interface{}{
			"score":     result.Score,
			"scorer":    result.ScorerName,
			"nominator": result.NominatorName,
		},
	})
	return result
}

// gate applies the round preconditions, returning the skip reason or ""
func (s *NetworkSelector) gate(entries []*pkg.ScanEntry, link *pkg.WifiLinkInfo, connected, disconnected bool, now int64) string {
	if len(entries) == 0 {
		return SkipEmptyScan
	}
	if connected == disconnected {
		return SkipInvalidState
	}
	if connected && !s.config.RoamWhileConnected {
		return SkipRoamDisabled
	}
	if s.lastSelectionMs > 0 && now-s.lastSelectionMs < int64(s.config.MinSelectionIntervalS)*1000 {
		return SkipTooSoon
	}
	if connected && link != nil && s.currentSufficient(link, now) {
		return SkipCurrentSufficient
	}
	return ""
}

// currentSufficient decides whether the current link is good enough to
// leave alone this round
func (s *NetworkSelector) currentSufficient(link *pkg.WifiLinkInfo, now int64) bool {
	// A network the user just picked is sufficient by fiat for a short
	// grace window, even before it fully settles.
	lastID := s.store.GetLastSelectedNetworkID()
	lastTs := s.store.GetLastSelectedTimestampMs()
	if lastID == link.NetworkID && lastTs > 0 && now-lastTs < int64(s.config.LastUserSelectionGraceS)*1000 {
		s.logger.Debug("Current network in user selection grace window", "network_id", link.NetworkID)
		return true
	}

	if !link.FullyEstablished || link.SignOnInProgress {
		return false
	}
	if link.InternetLost && !link.NoInternetExpected {
		return false
	}

	sufficient := s.config.SufficientRssi5
	if pkg.Is24GHz(link.FrequencyMHz) {
		sufficient = s.config.SufficientRssi24
	}
	if link.RssiDbm < sufficient {
		return false
	}
	if link.TxSuccessRate < s.config.ActiveTrafficPktPerSec && link.RxSuccessRate < s.config.ActiveTrafficPktPerSec {
		return false
	}

	// Predictive gate: a link that is about to fall under the sufficiency
	// point gets replaced now rather than after it degrades.
	if s.config.PredictiveEnabled && s.forecaster != nil {
		horizonMs := int64(s.config.MinSelectionIntervalS) * 1000
		if predicted, ok := s.forecaster.ForecastRssi(link.Bssid, horizonMs); ok {
			if predicted < float64(sufficient)-s.config.PredictiveRssiMargin {
				s.logger.Info("Predicted signal degradation, treating current link as insufficient",
					"bssid", link.Bssid.String(), "rssi", link.RssiDbm, "predicted", predicted)
				s.telemetry.IncrementCounter("predictive_insufficient")
				return false
			}
		}
	}
	return true
}

// filterScan drops entries that can never become candidates
func (s *NetworkSelector) filterScan(entries []*pkg.ScanEntry, blocked map[pkg.Bssid]struct{}, link *pkg.WifiLinkInfo, connected bool) []*pkg.ScanEntry {
	out := make([]*pkg.ScanEntry, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Ssid == "" || !e.Bssid.IsValid() {
			continue
		}
		if _, isBlocked := blocked[e.Bssid]; isBlocked {
			// The current BSSID stays eligible so the round can still
			// compare alternatives against it.
			if link == nil || !connected || e.Bssid != link.Bssid {
				continue
			}
		}
		if e.AssocDisallowed {
			continue
		}
		entry := s.config.EntryRssi5
		if e.Is24GHz() {
			entry = s.config.EntryRssi24
		}
		if e.RssiDbm < entry {
			continue
		}
		out = append(out, e)
	}
	return out
}

// nominate runs every nomination source in priority order and decorates
// the candidates with throughput, recency and stickiness state
func (s *NetworkSelector) nominate(entries []*pkg.ScanEntry, link *pkg.WifiLinkInfo, untrustedAllowed bool) []*Candidate {
	untrusted := untrustedAllowed || s.config.AllowUntrusted
	var all []*Candidate
	for _, id := range nominationOrder {
		all = append(all, s.runNominator(id, entries, untrusted)...)
	}

	now := s.clock.ElapsedSinceBootMillis()
	for _, c := range all {
		linkUtil := pkg.UnknownUtilization
		if s.utilization != nil {
			linkUtil = s.utilization.UtilizationRatio(c.Entry.FrequencyMHz)
		}
		c.PredictedTputMbps = s.predictor.PredictForEntry(c.Entry, linkUtil, s.bluetoothConnected)
		c.LastSelectionWeight = s.lastSelectionWeight(c.Config.NetworkID, now)
		if link != nil {
			c.CurrentNetwork = c.Config.NetworkID == link.NetworkID
			c.CurrentBssid = c.CurrentNetwork && c.Entry.Bssid == link.Bssid
		}
	}
	return all
}

// lastSelectionWeight decays linearly from 1.0 to 0.0 over the configured
// window since the user last manually chose this exact network
func (s *NetworkSelector) lastSelectionWeight(networkID int, now int64) float64 {
	if networkID != s.store.GetLastSelectedNetworkID() {
		return 0
	}
	ts := s.store.GetLastSelectedTimestampMs()
	if ts <= 0 || now < ts {
		return 0
	}
	window := int64(s.config.LastSelectionDecayHours) * 3600 * 1000
	elapsed := now - ts
	if elapsed >= window {
		return 0
	}
	return 1.0 - float64(elapsed)/float64(window)
}

// groupByConfig keeps one representative candidate per config identity:
// the one from the highest-priority nominator, ties broken by nominator
// score. Output order is deterministic.
func groupByConfig(candidates []*Candidate) []*Candidate {
	reps := make(map[string]*Candidate, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		cur, ok := reps[key]
		if !ok || c.Nominator < cur.Nominator ||
			(c.Nominator == cur.Nominator && c.NominatorScore > cur.NominatorScore) {
			reps[key] = c
		}
	}
	keys := make([]string, 0, len(reps))
	for k := range reps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Candidate, 0, len(reps))
	for _, k := range keys {
		out = append(out, reps[k])
	}
	return out
}

// score runs every registered scorer, records disagreement against the
// active one, and returns the active scorer's pick. A panicking scorer is
// logged and skipped; a broken experiment must not take the round down.
func (s *NetworkSelector) score(reps []*Candidate) *ScoredNetwork {
	results := make(map[string]*ScoredNetwork, len(s.scorers))
	names := make([]string, 0, len(s.scorers))
	for name := range s.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		results[name] = s.runScorer(s.scorers[name], reps)
	}

	active := results[s.config.ActiveScorer]
	if active == nil {
		s.logger.Warn("Active scorer produced no result", "scorer", s.config.ActiveScorer)
		return nil
	}
	for _, name := range names {
		if name == s.config.ActiveScorer {
			continue
		}
		other := results[name]
		if other == nil {
			continue
		}
		if other.NetworkID != active.NetworkID {
			s.logger.Debug("Scorer disagreement",
				"active", s.config.ActiveScorer, "active_network", active.NetworkID,
				"other", name, "other_network", other.NetworkID)
			s.telemetry.IncrementCounter("scorer_disagreement")
		} else {
			s.telemetry.IncrementCounter("scorer_agreement")
		}
	}
	return active
}

func (s *NetworkSelector) runScorer(sc CandidateScorer, reps []*Candidate) (result *ScoredNetwork) {
	op := s.perf.Start("scorer_" + sc.Name())
	defer op.Complete(nil)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scorer panic", "scorer", sc.Name(), "panic", fmt.Sprintf("%v", r))
			s.telemetry.IncrementCounter("scorer_panic")
			result = nil
		}
	}()
	return sc.ScoreCandidates(reps)
}

// followConnectChoice walks the user connect-choice chain from the
// provisional winner: if the user, while seeing this network, manually
// picked another one, that preference wins as long as the preferred
// network is enabled and has a live candidate this round.
func (s *NetworkSelector) followConnectChoice(chosen *ScoredNetwork, reps []*Candidate) *ScoredNetwork {
	if chosen.OverrideUserConnectChoice {
		return chosen
	}
	byKey := make(map[string]*Candidate, len(reps))
	for _, c := range reps {
		byKey[c.Key()] = c
	}

	visited := map[string]bool{chosen.Candidate.Key(): true}
	current := chosen
	for hop := 0; hop < maxConnectChoiceHops; hop++ {
		choice := current.Candidate.Config.ConnectChoice
		if choice == "" || visited[choice] {
			break
		}
		visited[choice] = true
		next, ok := byKey[choice]
		if !ok {
			break
		}
		cfg := s.store.GetConfiguredNetworkByKey(choice)
		if cfg == nil || (!cfg.Enabled && !s.store.TryEnableNetwork(cfg.NetworkID)) {
			break
		}
		s.logger.Debug("Following user connect choice",
			"from", current.Candidate.Key(), "to", choice)
		s.telemetry.IncrementCounter("connect_choice_override")
		current = &ScoredNetwork{
			NetworkID:  next.Config.NetworkID,
			Score:      current.Score,
			Confidence: current.Confidence,
			Candidate:  next,
		}
	}
	return current
}

// writeCandidateCaches pushes this round's representative candidates back
// into the config store for the diagnostics surface and the next round's
// nominators
func (s *NetworkSelector) writeCandidateCaches(reps []*Candidate) {
	for _, c := range reps {
		score := (c.Entry.RssiDbm+rssiScoreOffset)*rssiScoreSlope + c.PredictedTputMbps
		s.store.SetNetworkCandidate(c.Config.NetworkID, c.Entry, score)
	}
}

func (s *NetworkSelector) skip(reason string) {
	s.lastSkipReason = reason
	s.lastCandidates = nil
	s.logger.Debug("Selection round skipped", "reason", reason, "round", s.roundCounter)
	s.telemetry.IncrementCounter("selection_skipped")
	s.telemetry.RecordEvent(&pkg.Event{
		ID:        fmt.Sprintf("skip_%d", s.roundCounter),
		Type:      pkg.EventSelectionSkipped,
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

func bssidSeen(entries []*pkg.ScanEntry, bssid pkg.Bssid) bool {
	for _, e := range entries {
		if e.Bssid == bssid {
			return true
		}
	}
	return false
}
