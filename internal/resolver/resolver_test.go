package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/store"
)

func candidates() []store.CandidateIntent {
	return []store.CandidateIntent{
		{Name: "book_flight", Confidence: 0.95},
		{Name: "book_hotel", Confidence: 0.6},
	}
}

func TestResolver_AutomaticResolvesHighConfidence(t *testing.T) {
	r := NewResolver(nil)
	out := r.Resolve(context.Background(), Input{Candidates: candidates()}, 0)
	require.True(t, out.Resolved)
	assert.Equal(t, "book_flight", out.Intent)
	assert.Equal(t, StrategyAutomatic, out.Attempts[0].Strategy)
}

func TestResolver_ContextualResolvesOnRecentIntent(t *testing.T) {
	r := NewResolver(nil)
	cands := []store.CandidateIntent{
		{Name: "book_flight", Confidence: 0.6},
		{Name: "book_hotel", Confidence: 0.65},
	}
	out := r.Resolve(context.Background(), Input{
		Candidates:    cands,
		RecentIntents: []string{"book_flight"},
	}, 0)
	require.True(t, out.Resolved)
	assert.Equal(t, "book_flight", out.Intent)
}

func TestResolver_StatisticalResolvesOnHistory(t *testing.T) {
	r := NewResolver(nil)
	cands := []store.CandidateIntent{
		{Name: "book_flight", Confidence: 0.55},
		{Name: "book_hotel", Confidence: 0.55},
	}
	out := r.Resolve(context.Background(), Input{
		Candidates:      cands,
		UserIntentStats: map[string]float32{"book_hotel": 0.8, "book_flight": 0.2},
	}, 0)
	require.True(t, out.Resolved)
	assert.Equal(t, "book_hotel", out.Intent)
}

func TestResolver_FallsBackToInteractiveWhenAllFail(t *testing.T) {
	r := NewResolver(nil)
	cands := []store.CandidateIntent{
		{Name: "book_flight", Confidence: 0.55},
		{Name: "book_hotel", Confidence: 0.5},
	}
	out := r.Resolve(context.Background(), Input{Candidates: cands}, 1)
	require.False(t, out.Resolved)
	assert.True(t, out.Interactive)
	assert.NotEmpty(t, out.Question)
	assert.Len(t, out.Attempts, 4)
}

func TestResolver_SuccessRateTracksOutcomes(t *testing.T) {
	r := NewResolver(nil)
	assert.Equal(t, float32(0.5), r.SuccessRate(StrategyAutomatic))

	r.Resolve(context.Background(), Input{Candidates: candidates()}, 0)
	assert.Greater(t, r.SuccessRate(StrategyAutomatic), float32(0.5))
}
