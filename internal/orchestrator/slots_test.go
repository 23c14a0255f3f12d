package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/dialogued/store"
)

func TestMissingSlots(t *testing.T) {
	schema := []*store.SlotConfig{
		{SlotName: "origin", IsRequired: true},
		{SlotName: "destination", IsRequired: true},
		{SlotName: "notes", IsRequired: false},
	}

	active := map[string]*store.SlotValue{
		"origin":      {SlotName: "origin", ValidationStatus: store.ValidationValid},
		"destination": {SlotName: "destination", ValidationStatus: store.ValidationPending},
	}

	missing := missingSlots(schema, active)
	assert.Len(t, missing, 1)
	assert.Equal(t, "destination", missing[0].SlotName)
}

func TestMissingSlots_AbsentAndInvalidAlsoMissing(t *testing.T) {
	schema := []*store.SlotConfig{
		{SlotName: "origin", IsRequired: true},
		{SlotName: "destination", IsRequired: true},
	}

	active := map[string]*store.SlotValue{
		"destination": {SlotName: "destination", ValidationStatus: store.ValidationInvalid},
	}

	missing := missingSlots(schema, active)
	assert.Len(t, missing, 2)
}

func TestMissingSlots_OptionalNeverCounted(t *testing.T) {
	schema := []*store.SlotConfig{
		{SlotName: "notes", IsRequired: false},
	}

	missing := missingSlots(schema, map[string]*store.SlotValue{})
	assert.Empty(t, missing)
}
