package nlu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMockAdapter() *MockAdapter {
	return NewMockAdapter(map[string][]string{
		"book_flight":  {"book a flight", "fly to", "flight"},
		"cancel_order": {"cancel my order", "cancel order"},
		"track_order":  {"where is my order", "track order"},
	})
}

func TestMockAdapter_RecognizeTopMatch(t *testing.T) {
	a := newTestMockAdapter()

	res, err := a.Recognize(context.Background(), "I want to book a flight to Paris", nil, RecognitionContext{})
	require.NoError(t, err)
	require.NotNil(t, res.TopIntent)
	assert.Equal(t, "book_flight", res.TopIntent.Name)
	assert.False(t, res.Unknown)
}

func TestMockAdapter_RecognizeUnknown(t *testing.T) {
	a := newTestMockAdapter()

	res, err := a.Recognize(context.Background(), "what is the weather like today", nil, RecognitionContext{})
	require.NoError(t, err)
	assert.True(t, res.Unknown)
	assert.Nil(t, res.TopIntent)
}

func TestMockAdapter_RestrictsToActiveIntents(t *testing.T) {
	a := newTestMockAdapter()

	res, err := a.Recognize(context.Background(), "cancel order please", []string{"track_order"}, RecognitionContext{})
	require.NoError(t, err)
	assert.True(t, res.Unknown)
}

func TestMockAdapter_ConfidenceCappedAt95(t *testing.T) {
	a := NewMockAdapter(map[string][]string{
		"many_keywords": {"a", "b", "c", "d", "e", "f", "g"},
	})

	res, err := a.Recognize(context.Background(), "a b c d e f g", nil, RecognitionContext{})
	require.NoError(t, err)
	require.NotNil(t, res.TopIntent)
	assert.LessOrEqual(t, res.TopIntent.Confidence, float32(0.95))
}

func TestMockAdapter_SetKeywordsOverridesIntent(t *testing.T) {
	a := newTestMockAdapter()
	a.SetKeywords("book_flight", []string{"reserve a seat"})

	res, err := a.Recognize(context.Background(), "reserve a seat please", nil, RecognitionContext{})
	require.NoError(t, err)
	require.NotNil(t, res.TopIntent)
	assert.Equal(t, "book_flight", res.TopIntent.Name)
}

func TestNormalizeInput(t *testing.T) {
	assert.Equal(t, "hello world", normalizeInput("  Hello World  "))
	assert.Equal(t, "你好", normalizeInput("你好，"))
}

func TestExtractEntities(t *testing.T) {
	entities := extractEntities("contact me at a@b.com or call 13800138000")

	var haveEmail, havePhone bool
	for _, e := range entities {
		if e.Name == "email" {
			haveEmail = true
			assert.Equal(t, "a@b.com", e.Value)
		}
		if e.Name == "phone" {
			havePhone = true
		}
	}
	assert.True(t, haveEmail)
	assert.True(t, havePhone)
}
