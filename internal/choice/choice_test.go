package choice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/store"
)

func testCandidates() []store.CandidateIntent {
	return []store.CandidateIntent{
		{Name: "book_flight", DisplayName: "Book a flight", Confidence: 0.8},
		{Name: "book_hotel", DisplayName: "Book a hotel", Confidence: 0.6},
		{Name: "cancel_order", DisplayName: "Cancel an order", Confidence: 0.5},
	}
}

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "book a flight", Preprocess("  我要 Book a flight!  "))
}

func TestParser_NegativeDetection(t *testing.T) {
	p := NewParser()
	r := p.Parse("都不是", testCandidates(), Context{})
	assert.Equal(t, TypeNegative, r.Type)
	assert.InDelta(t, 0.9, r.Confidence, 0.001)
}

func TestParser_UncertainDetection(t *testing.T) {
	p := NewParser()
	r := p.Parse("不知道", testCandidates(), Context{})
	assert.Equal(t, TypeUncertain, r.Type)
	assert.InDelta(t, 0.8, r.Confidence, 0.001)
}

func TestParser_NumericSelection(t *testing.T) {
	p := NewParser()
	r := p.Parse("第2个", testCandidates(), Context{})
	assert.Equal(t, TypeNumeric, r.Type)
	assert.Equal(t, "book_hotel", r.SelectedOption)
}

func TestParser_NumericArabicDigit(t *testing.T) {
	p := NewParser()
	r := p.Parse("1", testCandidates(), Context{})
	assert.Equal(t, TypeNumeric, r.Type)
	assert.Equal(t, "book_flight", r.SelectedOption)
}

func TestParser_TextualSubstringMatch(t *testing.T) {
	p := NewParser()
	r := p.Parse("book a hotel please", testCandidates(), Context{})
	assert.Equal(t, TypeTextual, r.Type)
	assert.Equal(t, "book_hotel", r.SelectedOption)
}

func TestParser_ContextualMatch(t *testing.T) {
	p := NewParser()
	cands := []store.CandidateIntent{
		{Name: "book_flight", DisplayName: "Book a flight"},
		{Name: "book_hotel", DisplayName: "Book a hotel"},
	}
	r := p.Parse("xyz", cands, Context{RecentIntents: []string{"book_hotel"}})
	assert.Equal(t, "book_hotel", r.SelectedOption)
}

func TestParser_CorrectionMatch(t *testing.T) {
	p := NewParser()
	cands := []store.CandidateIntent{{Name: "cancel", DisplayName: "cancel"}}
	r := p.Parse("cance1", cands, Context{})
	require.Equal(t, "cancel", r.SelectedOption)
}

func TestParser_UncertainFallbackWithSuggestions(t *testing.T) {
	p := NewParser()
	r := p.Parse("zzz completely unrelated", testCandidates(), Context{})
	assert.Equal(t, TypeUncertain, r.Type)
	assert.LessOrEqual(t, len(r.Alternatives), 3)
}

func TestParser_Deterministic(t *testing.T) {
	p := NewParser()
	cands := testCandidates()
	r1 := p.Parse("book a flight", cands, Context{})
	r2 := p.Parse("book a flight", cands, Context{})
	assert.Equal(t, r1, r2)
}

func TestConfidenceLevelBands(t *testing.T) {
	assert.Equal(t, LevelHigh, confidenceLevel(0.85))
	assert.Equal(t, LevelMedium, confidenceLevel(0.65))
	assert.Equal(t, LevelLow, confidenceLevel(0.45))
	assert.Equal(t, LevelVeryLow, confidenceLevel(0.1))
}

func TestQuestionGenerator_EscalatesSpecificity(t *testing.T) {
	g := NewQuestionGenerator()
	cands := testCandidates()

	first := g.Generate(cands, 0)
	assert.Contains(t, first, "Which one did you mean")

	third := g.Generate(cands, 2)
	assert.Contains(t, third, "Just to confirm")

	final := g.Generate(cands, 3)
	assert.Contains(t, final, "fall back")
}
