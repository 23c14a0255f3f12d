package orchestrator

import (
	"strings"

	"github.com/hrygo/dialogued/internal/confirmation"
	"github.com/hrygo/dialogued/store"
)

// actionClassFor derives a confirmation risk class from an intent's
// category, since intent_config never states one directly.
func actionClassFor(ic *store.IntentConfig) confirmation.ActionClass {
	switch strings.ToLower(ic.Category) {
	case "monetary", "payment", "booking":
		return confirmation.ActionMonetary
	case "read", "query", "qa", "lookup":
		return confirmation.ActionRead
	default:
		return confirmation.ActionWrite
	}
}
