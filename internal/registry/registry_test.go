package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/store"
)

const fixtureYAML = `
intents:
  - intent_name: book_flight
    display_name: Book a flight
    priority: 10
    confidence_threshold: 0.7
    is_active: true
    slots:
      - slot_name: origin
        slot_type: text
        is_required: true
      - slot_name: destination
        slot_type: text
        is_required: true
        validation_rules:
          rule: "value != normalized || normalized != ''"
      - slot_name: passenger_count
        slot_type: number
        is_required: false
      - slot_name: notes
        slot_type: text
        is_required: false
        validation_rules:
          min_length: 2
          max_length: 5
  - intent_name: cancel_order
    display_name: Cancel an order
    priority: 5
    is_active: true
  - intent_name: disabled_intent
    display_name: Disabled
    priority: 100
    is_active: false
`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, r.LoadYAML([]byte(fixtureYAML)))
	return r
}

func TestRegistry_LoadYAML_ActiveIntentsSortedByPriority(t *testing.T) {
	r := newTestRegistry(t)

	active := r.ActiveIntents()
	require.Len(t, active, 2)
	assert.Equal(t, "book_flight", active[0].IntentName)
	assert.Equal(t, "cancel_order", active[1].IntentName)
}

func TestRegistry_GetIntent(t *testing.T) {
	r := newTestRegistry(t)

	ic, ok := r.GetIntent("book_flight")
	require.True(t, ok)
	assert.Equal(t, float32(0.7), ic.ConfidenceThreshold)

	_, ok = r.GetIntent("does_not_exist")
	assert.False(t, ok)
}

func TestRegistry_GetSlots_RequiredFirst(t *testing.T) {
	r := newTestRegistry(t)

	slots := r.GetSlots("book_flight")
	require.Len(t, slots, 4)
	assert.True(t, slots[0].IsRequired)
	assert.True(t, slots[1].IsRequired)
	assert.False(t, slots[2].IsRequired)
}

func TestRegistry_RegisterIntent_UpdatesSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := t.Context()

	require.NoError(t, r.RegisterIntent(ctx, &store.IntentConfig{
		IntentName: "track_order",
		Priority:   50,
		IsActive:   true,
	}))

	active := r.ActiveIntents()
	require.Len(t, active, 3)
	assert.Equal(t, "track_order", active[0].IntentName)
}

func TestRegistry_ValidateSlotValue_NoRulePasses(t *testing.T) {
	r := newTestRegistry(t)

	ok, err := r.ValidateSlotValue("book_flight", "origin", "beijing", "Beijing")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_ValidateSlotValue_UnknownSlot(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.ValidateSlotValue("book_flight", "nope", "x", "x")
	assert.Error(t, err)
}

func TestRegistry_ValidateSlotValue_EnforcesLengthBounds(t *testing.T) {
	r := newTestRegistry(t)

	ok, err := r.ValidateSlotValue("book_flight", "notes", "hi", "hi")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ValidateSlotValue("book_flight", "notes", "h", "h")
	require.NoError(t, err)
	assert.False(t, ok, "below min_length should fail")

	ok, err = r.ValidateSlotValue("book_flight", "notes", "toolongvalue", "toolongvalue")
	require.NoError(t, err)
	assert.False(t, ok, "above max_length should fail")
}

func TestRender(t *testing.T) {
	out := Render("Flying from {origin} to {destination}", map[string]string{
		"origin":      "Beijing",
		"destination": "Shanghai",
	})
	assert.Equal(t, "Flying from Beijing to Shanghai", out)

	out = Render("Missing {unset}", map[string]string{})
	assert.Equal(t, "Missing {unset}", out)
}
