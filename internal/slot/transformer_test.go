package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/store"
)

func TestTransformer_NormalizeText(t *testing.T) {
	tr := NewTransformer()
	out, err := tr.Normalize(store.SlotTypeText, "  Beijing  ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "beijing", out)
}

func TestTransformer_NormalizeNumber(t *testing.T) {
	tr := NewTransformer()

	out, err := tr.Normalize(store.SlotTypeNumber, "3 people", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "3", out)

	out, err = tr.Normalize(store.SlotTypeNumber, "2.5kg", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2.5", out)

	_, err = tr.Normalize(store.SlotTypeNumber, "no digits here", time.Now())
	assert.Error(t, err)
}

func TestTransformer_NormalizeDate(t *testing.T) {
	tr := NewTransformer()

	out, err := tr.Normalize(store.SlotTypeDate, "2026-08-01", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01", out)

	out, err = tr.Normalize(store.SlotTypeDate, "Aug 1, 2026", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01", out)

	out, err = tr.Normalize(store.SlotTypeDate, "not a date", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "not a date", out)
}

func TestTransformer_NormalizeEmail(t *testing.T) {
	tr := NewTransformer()

	out, err := tr.Normalize(store.SlotTypeEmail, "  User@Example.COM ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", out)

	_, err = tr.Normalize(store.SlotTypeEmail, "not-an-email", time.Now())
	assert.Error(t, err)

	_, err = tr.Normalize(store.SlotTypeEmail, "a@.x", time.Now())
	assert.Error(t, err)
}

func TestTransformer_NormalizePhone(t *testing.T) {
	tr := NewTransformer()

	out, err := tr.Normalize(store.SlotTypePhone, "138-0013-8000", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "13800138000", out)

	_, err = tr.Normalize(store.SlotTypePhone, "12", time.Now())
	assert.Error(t, err)

	// 11 digits but not a mainland mobile prefix.
	_, err = tr.Normalize(store.SlotTypePhone, "02012345678", time.Now())
	assert.Error(t, err)
}

func TestTransformer_NormalizeIdempotent(t *testing.T) {
	tr := NewTransformer()
	once, err := tr.Normalize(store.SlotTypeText, "  New York  ", time.Now())
	require.NoError(t, err)
	twice, err := tr.Normalize(store.SlotTypeText, once, time.Now())
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMerge_CorrectionAlwaysWins(t *testing.T) {
	prior := &store.SlotValue{SlotName: "origin", NormalizedValue: "beijing", ValidationStatus: store.ValidationValid}
	next := &store.SlotValue{SlotName: "origin", NormalizedValue: "shanghai", ExtractionMethod: store.ExtractionCorrection}

	got := Merge(prior, next)
	assert.Equal(t, "shanghai", got.NormalizedValue)
}

func TestMerge_InvalidNextKeepsPrior(t *testing.T) {
	prior := &store.SlotValue{SlotName: "origin", NormalizedValue: "beijing", ValidationStatus: store.ValidationValid}
	next := &store.SlotValue{SlotName: "origin", NormalizedValue: "???", ValidationStatus: store.ValidationInvalid}

	got := Merge(prior, next)
	assert.Equal(t, "beijing", got.NormalizedValue)
}

func TestInherit_OnlySharedSlots(t *testing.T) {
	values := map[string]*store.SlotValue{
		"origin":      {SlotName: "origin", IntentName: "book_flight", NormalizedValue: "beijing"},
		"destination": {SlotName: "destination", IntentName: "book_flight", NormalizedValue: "shanghai"},
	}

	out := Inherit(values, "change_flight", []string{"origin"}, 42, "sess-1", 1000)
	require.Len(t, out, 1)
	require.Contains(t, out, "origin")
	assert.Equal(t, "change_flight", out["origin"].IntentName)
	assert.Equal(t, store.ExtractionMigration, out["origin"].ExtractionMethod)
	assert.Equal(t, int64(42), out["origin"].ConversationTurnID)
}
