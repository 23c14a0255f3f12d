package confidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/store"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New(nil)
	require.NoError(t, err)
	require.NoError(t, r.RegisterIntent(context.Background(), &store.IntentConfig{
		IntentName:          "book_flight",
		Priority:            10,
		IsActive:            true,
		ConfidenceThreshold: 0.7,
	}))
	return r
}

func TestManager_Band(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())

	assert.Equal(t, BandHigh, m.Band(0.9))
	assert.Equal(t, BandMedium, m.Band(0.75))
	assert.Equal(t, BandLow, m.Band(0.6))
	assert.Equal(t, BandReject, m.Band(0.2))
}

func TestManager_ThresholdDefaultsToRegistry(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())
	assert.Equal(t, float32(0.7), m.Threshold("book_flight"))
	assert.True(t, m.Accepts("book_flight", 0.71))
	assert.False(t, m.Accepts("book_flight", 0.69))
}

func TestManager_SustainedFailureRaisesThreshold(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())
	ctx := context.Background()

	for i := 0; i < streakToAdjust; i++ {
		m.RecordOutcome(ctx, "book_flight", false)
	}

	assert.InDelta(t, 0.75, m.Threshold("book_flight"), 0.001)
}

func TestManager_SustainedSuccessLowersThreshold(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())
	ctx := context.Background()

	for i := 0; i < streakToAdjust; i++ {
		m.RecordOutcome(ctx, "book_flight", true)
	}

	assert.InDelta(t, 0.65, m.Threshold("book_flight"), 0.001)
}

func TestManager_ThresholdClampedToBounds(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		for i := 0; i < streakToAdjust; i++ {
			m.RecordOutcome(ctx, "book_flight", false)
		}
	}

	assert.LessOrEqual(t, m.Threshold("book_flight"), maxThreshold)
}

func TestManager_ResetClearsOverride(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())
	ctx := context.Background()

	for i := 0; i < streakToAdjust; i++ {
		m.RecordOutcome(ctx, "book_flight", false)
	}
	require.NotEqual(t, float32(0.7), m.Threshold("book_flight"))

	m.Reset("book_flight")
	assert.Equal(t, float32(0.7), m.Threshold("book_flight"))
}

func TestManager_UnknownIntentUsesDefault(t *testing.T) {
	m := NewManager(newTestRegistry(t), DefaultBands())
	assert.Equal(t, defaultThreshold, m.Threshold("does_not_exist"))
}
