// Package resolver implements the multi-strategy ambiguity resolver (C9):
// given an ambiguous NLU result, try increasingly expensive strategies in
// priority order until one resolves, learning from each outcome.
package resolver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/dialogued/internal/choice"
	"github.com/hrygo/dialogued/store"
)

// StrategyName enumerates spec.md §4.5's resolution strategies, tried in
// this fixed order: automatic, then contextual, statistical, hybrid.
type StrategyName string

const (
	StrategyAutomatic   StrategyName = "automatic"
	StrategyContextual  StrategyName = "contextual"
	StrategyStatistical StrategyName = "statistical"
	StrategyHybrid      StrategyName = "hybrid"
	StrategyInteractive StrategyName = "interactive"
)

// AttemptResult enumerates what a single strategy attempt produced.
type AttemptResult string

const (
	ResultResolved AttemptResult = "resolved"
	ResultPartial  AttemptResult = "partial"
	ResultFailed   AttemptResult = "failed"
	ResultDeferred AttemptResult = "deferred"
)

// Attempt records one strategy's outcome, including which candidate it
// picked when it resolved (empty for Failed/Partial/Deferred results).
type Attempt struct {
	Strategy   StrategyName
	Intent     string
	Result     AttemptResult
	Confidence float32
	Elapsed    time.Duration
}

// Outcome is the resolver's final verdict across every strategy tried.
type Outcome struct {
	Intent      string
	Attempts    []Attempt
	Question    string
	Resolved    bool
	Interactive bool
}

// Input bundles everything a strategy needs to make its decision.
type Input struct {
	Candidates      []store.CandidateIntent
	RecentIntents   []string
	UserPreferences map[string]string
	// UserIntentStats maps intent name -> historical success rate [0,1]
	// for this user, used by the statistical strategy.
	UserIntentStats map[string]float32
	// StrategyWeights is not read by Resolve; strategies always run in the
	// fixed order automatic, contextual, statistical, hybrid.
	StrategyWeights map[StrategyName]float32
}

// questionGen is the subset of choice.QuestionGenerator the resolver needs,
// declared as an interface so tests don't depend on the concrete type.
type questionGen interface {
	Generate(candidates []store.CandidateIntent, retryCount int) string
}

// Resolver tries strategies in a fixed order and records how often each
// strategy resolves. The recorded rates (SuccessRate) do not change the
// order in which Resolve tries strategies.
type Resolver struct {
	mu            sync.Mutex
	strategySucc  map[StrategyName]int
	strategyTotal map[StrategyName]int
	questionGen   questionGen
}

// NewResolver builds a Resolver. qg may be nil to use the default
// choice.QuestionGenerator.
func NewResolver(qg questionGen) *Resolver {
	if qg == nil {
		qg = choice.NewQuestionGenerator()
	}
	return &Resolver{
		strategySucc:  make(map[StrategyName]int),
		strategyTotal: make(map[StrategyName]int),
		questionGen:   qg,
	}
}

// Resolve runs automatic, contextual, statistical, then hybrid, in that
// order, returning as soon as one resolves. If every strategy fails, it
// falls through to interactive: a clarification question plus an unresolved
// Outcome for the orchestrator to persist as an IntentAmbiguity row.
func (r *Resolver) Resolve(ctx context.Context, in Input, retryCount int) Outcome {
	strategies := []struct {
		name string
		fn   func(Input) Attempt
	}{
		{string(StrategyAutomatic), r.automatic},
		{string(StrategyContextual), r.contextual},
		{string(StrategyStatistical), r.statistical},
		{string(StrategyHybrid), r.hybrid},
	}

	var attempts []Attempt
	for _, s := range strategies {
		start := time.Now()
		attempt := s.fn(in)
		attempt.Strategy = StrategyName(s.name)
		attempt.Elapsed = time.Since(start)
		attempts = append(attempts, attempt)

		r.recordOutcome(attempt.Strategy, attempt.Result == ResultResolved)

		if attempt.Result == ResultResolved {
			return Outcome{Intent: attempt.Intent, Attempts: attempts, Resolved: true}
		}
	}

	return Outcome{
		Attempts:    attempts,
		Resolved:    false,
		Interactive: true,
		Question:    r.questionGen.Generate(in.Candidates, retryCount),
	}
}

func bestCandidate(candidates []store.CandidateIntent) store.CandidateIntent {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// automatic applies declarative rules: a single overwhelmingly confident
// candidate, or an exact match to a stated user preference, resolves
// immediately without further analysis.
func (r *Resolver) automatic(in Input) Attempt {
	if len(in.Candidates) == 0 {
		return Attempt{Result: ResultFailed}
	}

	best := bestCandidate(in.Candidates)
	if best.Confidence >= 0.9 {
		return Attempt{Result: ResultResolved, Intent: best.Name, Confidence: best.Confidence}
	}

	if pref, ok := in.UserPreferences["preferred_intent"]; ok {
		for _, c := range in.Candidates {
			if c.Name == pref {
				return Attempt{Result: ResultResolved, Intent: c.Name, Confidence: c.Confidence}
			}
		}
	}

	return Attempt{Result: ResultFailed}
}

// contextual prefers a candidate that continues the session's recent
// intent history — conversational momentum outranks a marginal confidence
// edge.
func (r *Resolver) contextual(in Input) Attempt {
	recent := make(map[string]int, len(in.RecentIntents))
	for i, name := range in.RecentIntents {
		recent[name] = i
	}

	var best store.CandidateIntent
	bestRank := -1
	found := false
	for _, c := range in.Candidates {
		if rank, ok := recent[c.Name]; ok {
			if !found || rank < bestRank {
				best = c
				bestRank = rank
				found = true
			}
		}
	}

	if found {
		return Attempt{Result: ResultResolved, Intent: best.Name, Confidence: best.Confidence}
	}
	return Attempt{Result: ResultFailed}
}

// statistical picks the candidate with the highest historical per-user
// success rate, provided it clears a minimal plausibility bar.
func (r *Resolver) statistical(in Input) Attempt {
	if len(in.UserIntentStats) == 0 {
		return Attempt{Result: ResultFailed}
	}

	var best store.CandidateIntent
	bestRate := float32(-1)
	for _, c := range in.Candidates {
		if rate, ok := in.UserIntentStats[c.Name]; ok && rate > bestRate {
			bestRate = rate
			best = c
		}
	}

	if bestRate >= 0.6 {
		return Attempt{Result: ResultResolved, Intent: best.Name, Confidence: bestRate}
	}
	if bestRate >= 0 {
		return Attempt{Result: ResultPartial, Confidence: bestRate}
	}
	return Attempt{Result: ResultFailed}
}

// hybrid votes across the signals the earlier strategies already computed:
// confidence rank, recency rank, and historical success rank combine into a
// single priority score (spec.md's 0.4/0.4/0.2 weighting).
func (r *Resolver) hybrid(in Input) Attempt {
	if len(in.Candidates) == 0 {
		return Attempt{Result: ResultFailed}
	}

	recent := make(map[string]bool, len(in.RecentIntents))
	for _, name := range in.RecentIntents {
		recent[name] = true
	}

	type scored struct {
		name  string
		score float32
	}
	var scores []scored
	for _, c := range in.Candidates {
		successRate := in.UserIntentStats[c.Name]
		contextFitness := float32(0)
		if recent[c.Name] {
			contextFitness = 1
		}
		score := 0.4*c.Confidence + 0.4*successRate + 0.2*contextFitness
		scores = append(scores, scored{name: c.Name, score: score})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if scores[0].score >= 0.5 {
		return Attempt{Result: ResultResolved, Intent: scores[0].name, Confidence: scores[0].score}
	}
	return Attempt{Result: ResultFailed, Confidence: scores[0].score}
}

func (r *Resolver) recordOutcome(strategy StrategyName, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategyTotal[strategy]++
	if success {
		r.strategySucc[strategy]++
	}
}

// SuccessRate returns a strategy's historical success rate in [0,1].
// Returns 0.5 until the strategy has been tried at least once. Resolve does
// not consult it.
func (r *Resolver) SuccessRate(strategy StrategyName) float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.strategyTotal[strategy]
	if total == 0 {
		return 0.5
	}
	return float32(r.strategySucc[strategy]) / float32(total)
}
