package selector

import (
	"github.com/markus-lassfolk/roamcore/pkg"
)

// NominatorID identifies one nomination source. The set is closed: dispatch
// happens through a switch in runNominator, and the slice order below is the
// priority order (lower runs first and wins representative ties).
type NominatorID int

const (
	NominatorSaved NominatorID = iota
	NominatorSuggested
	NominatorPasspoint
	NominatorCarrier
	NominatorExternallyScored
)

// nominationOrder is the fixed priority order of all nominators
var nominationOrder = []NominatorID{
	NominatorSaved,
	NominatorSuggested,
	NominatorPasspoint,
	NominatorCarrier,
	NominatorExternallyScored,
}

func (id NominatorID) String() string {
	switch id {
	case NominatorSaved:
		return "SavedNominator"
	case NominatorSuggested:
		return "SuggestedNominator"
	case NominatorPasspoint:
		return "PasspointNominator"
	case NominatorCarrier:
		return "CarrierNominator"
	case NominatorExternallyScored:
		return "ExternallyScoredNominator"
	default:
		return "UnknownNominator"
	}
}

// Candidate pairs a live scan entry with the persisted configuration it
// matched, plus everything a scorer needs to rank it. Candidates only live
// for one selection round.
type Candidate struct {
	Entry  *pkg.ScanEntry
	Config *pkg.NetworkConfig

	Nominator      NominatorID
	NominatorScore int

	PredictedTputMbps   int
	LastSelectionWeight float64
	CurrentNetwork      bool
	CurrentBssid        bool

	// Metered when either the scan entry or the configuration says so
	Metered bool
}

// Key returns the config identity key every grouping step uses
func (c *Candidate) Key() string { return c.Config.Key() }

// runNominator produces candidates for one nomination source from the
// filtered scan entries. Matching is by logical network key; a config may
// yield several candidates when more than one of its BSSIDs is visible.
func (s *NetworkSelector) runNominator(id NominatorID, entries []*pkg.ScanEntry, untrustedAllowed bool) []*Candidate {
	var out []*Candidate
	for _, cfg := range s.store.GetConfiguredNetworks() {
		if cfg == nil || !s.nominatorOwns(id, cfg) {
			continue
		}
		if id == NominatorExternallyScored && !untrustedAllowed {
			continue
		}
		if !cfg.Enabled && !s.store.TryEnableNetwork(cfg.NetworkID) {
			continue
		}
		key := cfg.Key()
		for _, entry := range entries {
			if entry.Key().String() != key {
				continue
			}
			out = append(out, &Candidate{
				Entry:          entry,
				Config:         cfg,
				Nominator:      id,
				NominatorScore: entry.RssiDbm,
				Metered:        entry.Metered || cfg.Metered,
			})
		}
	}
	return out
}

// nominatorOwns decides which nomination source a config belongs to. Each
// config belongs to exactly one source; plain saved networks are the ones
// with no provenance flag set.
func (s *NetworkSelector) nominatorOwns(id NominatorID, cfg *pkg.NetworkConfig) bool {
	switch id {
	case NominatorSaved:
		return !cfg.Suggestion && !cfg.Passpoint && !cfg.Carrier && !cfg.ExternallyScored
	case NominatorSuggested:
		return cfg.Suggestion && !cfg.Passpoint && !cfg.Carrier
	case NominatorPasspoint:
		return cfg.Passpoint
	case NominatorCarrier:
		return cfg.Carrier
	case NominatorExternallyScored:
		return cfg.ExternallyScored
	default:
		return false
	}
}
