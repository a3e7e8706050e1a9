package selector

import (
	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/config"
)

// ScoredNetwork is the verdict of one scorer over a candidate set. When
// OverrideUserConnectChoice is set the scorer's pick stands even if the user
// previously redirected away from it.
type ScoredNetwork struct {
	NetworkID  int
	Score      int
	Confidence float64

	OverrideUserConnectChoice bool
	Candidate                 *Candidate
}

// CandidateScorer ranks a full candidate set and returns the single best
// network, nil when nothing is scoreable. Scorers must be pure over their
// input; all environment state arrives on the candidates themselves.
type CandidateScorer interface {
	Name() string
	ScoreCandidates(candidates []*Candidate) *ScoredNetwork
}

// Scoring weights shared by the built-in scorers
const (
	rssiScoreOffset = 85
	rssiScoreSlope  = 4

	throughputBonusCap = 800

	lastSelectionBonusMax = 480
	currentNetworkBonus   = 16
	currentBssidBonus     = 8
)

// ThroughputScorer ranks candidates by expected end-to-end throughput: an
// RSSI base clamped at the sufficiency point, plus a predicted-throughput
// bonus so a strong-but-congested AP loses to a slightly weaker idle one,
// plus stickiness bonuses that damp ping-pong roaming.
type ThroughputScorer struct {
	config *config.Config
}

// NewThroughputScorer creates the default scorer
func NewThroughputScorer(cfg *config.Config) *ThroughputScorer {
	return &ThroughputScorer{config: cfg}
}

func (ts *ThroughputScorer) Name() string { return "ThroughputScorer" }

func (ts *ThroughputScorer) ScoreCandidates(candidates []*Candidate) *ScoredNetwork {
	var best *ScoredNetwork
	for _, c := range candidates {
		score := ts.scoreOne(c)
		if best == nil || score > best.Score {
			confidence := 0.5
			if c.Entry.BssLoadUtilization != pkg.UnknownUtilization {
				confidence = 1.0
			}
			best = &ScoredNetwork{
				NetworkID:  c.Config.NetworkID,
				Score:      score,
				Confidence: confidence,
				Candidate:  c,
			}
		}
	}
	return best
}

func (ts *ThroughputScorer) scoreOne(c *Candidate) int {
	rssi := c.Entry.RssiDbm
	sufficient := ts.config.SufficientRssi5
	if c.Entry.Is24GHz() {
		sufficient = ts.config.SufficientRssi24
	}
	// Above the sufficiency point extra signal buys nothing; clamping keeps
	// the throughput term decisive between two good APs.
	if rssi > sufficient {
		rssi = sufficient
	}
	score := (rssi + rssiScoreOffset) * rssiScoreSlope

	tputBonus := c.PredictedTputMbps * 12 / 10
	if tputBonus > throughputBonusCap {
		tputBonus = throughputBonusCap
	}
	score += tputBonus

	score += int(c.LastSelectionWeight * lastSelectionBonusMax)
	if c.CurrentNetwork {
		score += currentNetworkBonus
	}
	if c.CurrentBssid {
		score += currentBssidBonus
	}
	return score
}

// RssiScorer is the legacy signal-only scorer, kept registered so every
// round logs how often raw RSSI would have picked a different network than
// the throughput model.
type RssiScorer struct {
	config *config.Config
}

func NewRssiScorer(cfg *config.Config) *RssiScorer {
	return &RssiScorer{config: cfg}
}

func (rs *RssiScorer) Name() string { return "RssiScorer" }

func (rs *RssiScorer) ScoreCandidates(candidates []*Candidate) *ScoredNetwork {
	var best *ScoredNetwork
	for _, c := range candidates {
		score := (c.Entry.RssiDbm + rssiScoreOffset) * rssiScoreSlope
		if c.CurrentNetwork {
			score += currentNetworkBonus
		}
		if best == nil || score > best.Score {
			best = &ScoredNetwork{
				NetworkID:  c.Config.NetworkID,
				Score:      score,
				Confidence: 0.5,
				Candidate:  c,
			}
		}
	}
	return best
}
