package ambiguity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/internal/nlu"
)

func TestDetector_NarrowGapIsAmbiguous(t *testing.T) {
	d := NewDetector(DefaultConfig())

	result := nlu.Result{
		TopIntent:  &nlu.Candidate{Name: "book_flight", Confidence: 0.72},
		Alternates: []nlu.Candidate{{Name: "book_hotel", Confidence: 0.65}},
	}

	a := d.Analyze(result, nil)
	assert.True(t, a.IsAmbiguous)
	assert.Equal(t, ActionDisambiguate, a.RecommendedAction)
	assert.Contains(t, a.Signals, SignalNarrowGap)
	require.Len(t, a.Candidates, 2)
	assert.Equal(t, "book_flight", a.Candidates[0].Name)
}

func TestDetector_ClearWinnerIsNotAmbiguous(t *testing.T) {
	d := NewDetector(DefaultConfig())

	result := nlu.Result{
		TopIntent:  &nlu.Candidate{Name: "book_flight", Confidence: 0.95},
		Alternates: []nlu.Candidate{{Name: "book_hotel", Confidence: 0.3}},
	}

	a := d.Analyze(result, nil)
	assert.False(t, a.IsAmbiguous)
	assert.Equal(t, ActionProceed, a.RecommendedAction)
}

func TestDetector_LowTopScoreFallsBack(t *testing.T) {
	d := NewDetector(DefaultConfig())

	result := nlu.Result{
		TopIntent: &nlu.Candidate{Name: "book_flight", Confidence: 0.3},
	}

	a := d.Analyze(result, nil)
	assert.False(t, a.IsAmbiguous)
	assert.Equal(t, ActionFallback, a.RecommendedAction)
	assert.Contains(t, a.Signals, SignalLowTopScore)
}

func TestDetector_UnknownResultFallsBack(t *testing.T) {
	d := NewDetector(DefaultConfig())
	a := d.Analyze(nlu.Result{Unknown: true}, nil)
	assert.Equal(t, ActionFallback, a.RecommendedAction)
}

func TestDetector_CandidatesCappedAndNoDuplicates(t *testing.T) {
	d := NewDetector(Config{GapThreshold: 0.5, MinConfidence: 0.1, MaxCandidates: 2})

	result := nlu.Result{
		TopIntent: &nlu.Candidate{Name: "a", Confidence: 0.9},
		Alternates: []nlu.Candidate{
			{Name: "b", Confidence: 0.8},
			{Name: "c", Confidence: 0.7},
			{Name: "d", Confidence: 0.6},
		},
	}

	a := d.Analyze(result, nil)
	require.Len(t, a.Candidates, 2)
	assert.Equal(t, "a", a.Candidates[0].Name)
	assert.Equal(t, "b", a.Candidates[1].Name)
}

func TestDetector_UsesDisplayNameResolver(t *testing.T) {
	d := NewDetector(DefaultConfig())

	result := nlu.Result{
		TopIntent:  &nlu.Candidate{Name: "book_flight", Confidence: 0.72},
		Alternates: []nlu.Candidate{{Name: "book_hotel", Confidence: 0.65}},
	}

	resolver := func(name string) (string, bool) {
		if name == "book_flight" {
			return "Book a Flight", true
		}
		return "", false
	}

	a := d.Analyze(result, resolver)
	assert.Equal(t, "Book a Flight", a.Candidates[0].DisplayName)
	assert.Equal(t, "book_hotel", a.Candidates[1].DisplayName)
}
