// Package ambiguity implements the ambiguity detector (C7): deciding
// whether a ranked NLU result is actually ambiguous between two or more
// intents, and if so which candidates are worth presenting to the user.
package ambiguity

import (
	"sort"

	"github.com/hrygo/dialogued/internal/nlu"
	"github.com/hrygo/dialogued/store"
)

// SignalType names one heuristic that contributed to an ambiguity verdict.
type SignalType string

const (
	SignalNarrowGap    SignalType = "narrow_confidence_gap"
	SignalMultipleHigh SignalType = "multiple_high_confidence"
	SignalLowTopScore  SignalType = "low_top_score"
)

// RecommendedAction tells the caller what to do with an ambiguous result.
type RecommendedAction string

const (
	ActionDisambiguate RecommendedAction = "disambiguate"
	ActionProceed      RecommendedAction = "proceed"
	ActionFallback     RecommendedAction = "fallback"
)

// Analysis is the detector's verdict for one turn's NLU result.
type Analysis struct {
	PrimaryType       SignalType
	Signals           []SignalType
	Candidates        []store.CandidateIntent
	RecommendedAction RecommendedAction
	Score             float32
	IsAmbiguous       bool
}

// Config tunes the detector's thresholds (spec.md §4.2 defaults).
type Config struct {
	GapThreshold  float32 // default 0.15
	MinConfidence float32 // default 0.50, both top1 and top2 must clear this
	MaxCandidates int     // default 5
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{GapThreshold: 0.15, MinConfidence: 0.50, MaxCandidates: 5}
}

// Detector flags ambiguous NLU results and assembles the candidate list a
// disambiguation prompt would present (P2: every candidate list is
// well-formed — sorted descending, capped, no duplicates).
type Detector struct {
	cfg Config
}

// NewDetector builds a Detector with cfg.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Analyze inspects an NLU result and decides whether it's ambiguous.
// displayNames resolves an intent name to a human-readable label (typically
// the registry); it may be nil, in which case the raw name is used.
func (d *Detector) Analyze(result nlu.Result, displayNames func(string) (string, bool)) Analysis {
	if result.TopIntent == nil {
		return Analysis{RecommendedAction: ActionFallback, Signals: []SignalType{SignalLowTopScore}}
	}

	all := append([]nlu.Candidate{*result.TopIntent}, result.Alternates...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })

	top1 := all[0].Confidence
	var top2 float32
	if len(all) > 1 {
		top2 = all[1].Confidence
	}

	var signals []SignalType
	ambiguous := false

	gap := top1 - top2
	if len(all) > 1 && gap <= d.cfg.GapThreshold && top1 >= d.cfg.MinConfidence && top2 >= d.cfg.MinConfidence {
		signals = append(signals, SignalNarrowGap)
		ambiguous = true
	}

	highCount := 0
	for _, c := range all {
		if c.Confidence >= d.cfg.MinConfidence {
			highCount++
		}
	}
	if highCount >= 2 {
		signals = append(signals, SignalMultipleHigh)
	}

	if top1 < d.cfg.MinConfidence {
		signals = append(signals, SignalLowTopScore)
	}

	candidates := d.buildCandidates(all, top1, displayNames)

	action := ActionProceed
	if ambiguous {
		action = ActionDisambiguate
	} else if top1 < d.cfg.MinConfidence {
		action = ActionFallback
	}

	primary := SignalType("")
	if len(signals) > 0 {
		primary = signals[0]
	}

	return Analysis{
		IsAmbiguous:       ambiguous,
		Score:             gap,
		PrimaryType:       primary,
		Signals:           signals,
		Candidates:        candidates,
		RecommendedAction: action,
	}
}

// buildCandidates returns every candidate within [top1-GapThreshold, top1],
// confidence descending, capped at MaxCandidates (P2).
func (d *Detector) buildCandidates(all []nlu.Candidate, top1 float32, displayNames func(string) (string, bool)) []store.CandidateIntent {
	floor := top1 - d.cfg.GapThreshold
	out := make([]store.CandidateIntent, 0, len(all))
	seen := make(map[string]bool, len(all))

	for _, c := range all {
		if c.Confidence < floor || c.Confidence < d.cfg.MinConfidence || seen[c.Name] {
			continue
		}
		seen[c.Name] = true

		display := c.Name
		if displayNames != nil {
			if name, ok := displayNames(c.Name); ok && name != "" {
				display = name
			}
		}

		out = append(out, store.CandidateIntent{Name: c.Name, DisplayName: display, Confidence: c.Confidence})
		if len(out) >= d.cfg.MaxCandidates {
			break
		}
	}
	return out
}
