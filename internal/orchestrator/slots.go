package orchestrator

import (
	"context"
	"strconv"
	"strings"

	"github.com/hrygo/dialogued/internal/nlu"
	"github.com/hrygo/dialogued/store"
)

// slotSnapshot is the wire-shaped view of a turn's active slots.
func slotSnapshot(active map[string]*store.SlotValue) map[string]string {
	out := make(map[string]string, len(active))
	for name, v := range active {
		out[name] = v.NormalizedValue
	}
	return out
}

// missingSlots returns the required slots from schema that are absent,
// invalid, or still pending re-validation in active (required slots first,
// registry.GetSlots already orders them that way). Pending counts as missing:
// it marks a value Migrate or fillSlots couldn't confirm valid, so the
// orchestrator must re-prompt rather than act on it.
func missingSlots(schema []*store.SlotConfig, active map[string]*store.SlotValue) []*store.SlotConfig {
	var missing []*store.SlotConfig
	for _, sc := range schema {
		if !sc.IsRequired {
			continue
		}
		v, ok := active[sc.SlotName]
		if !ok ||
			v.ValidationStatus == store.ValidationInvalid ||
			v.ValidationStatus == store.ValidationMissing ||
			v.ValidationStatus == store.ValidationPending {
			missing = append(missing, sc)
		}
	}
	return missing
}

// extractSlotCandidates is the "heuristic slot extraction" spec.md §4.1 step
// 2 calls for: it never re-runs intent classification, only pulls entities
// an NLU adapter already extracts (email/phone/number spans) plus, when
// exactly one required slot remains and none of the typed entities fit, the
// whole trimmed utterance as that slot's raw value.
func extractSlotCandidates(text string, result nlu.Result, missing []*store.SlotConfig) map[string]string {
	out := make(map[string]string)
	byType := make(map[store.SlotType]*store.SlotConfig, len(missing))
	for _, sc := range missing {
		byType[sc.SlotType] = sc
	}

	for _, e := range result.Entities {
		var st store.SlotType
		switch e.Name {
		case "email":
			st = store.SlotTypeEmail
		case "phone":
			st = store.SlotTypePhone
		case "number":
			st = store.SlotTypeNumber
		default:
			continue
		}
		if sc, ok := byType[st]; ok {
			if _, already := out[sc.SlotName]; !already {
				out[sc.SlotName] = e.Value
			}
		}
	}

	if len(out) == 0 && len(missing) == 1 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			out[missing[0].SlotName] = trimmed
		}
	}
	return out
}

// intentStatsPrefix namespaces per-user learning stats under a single
// UserContext key prefix so they can be listed with one query.
const intentStatsPrefix = "intent_stats:"

// loadIntentStats reconstructs the per-user, per-intent success-rate map the
// resolver's statistical strategy needs (spec.md §4.5 "per-user
// frequency/time/success model"), backed by UserContext rows of
// type=history, key="intent_stats:<intent>", value="<successes>/<total>".
func loadIntentStats(ctx context.Context, db *store.Store, userID int32) map[string]float32 {
	historyType := store.ContextTypeHistory
	rows, err := db.FindUserContexts(ctx, &store.FindUserContext{UserID: userID, Type: &historyType, ActiveOnly: true})
	if err != nil {
		return nil
	}

	out := make(map[string]float32, len(rows))
	for _, row := range rows {
		intentName, ok := strings.CutPrefix(row.Key, intentStatsPrefix)
		if !ok {
			continue
		}
		successes, total, ok := parseRatio(row.Value)
		if !ok || total == 0 {
			continue
		}
		out[intentName] = float32(successes) / float32(total)
	}
	return out
}

// recordIntentOutcome feeds a turn's success/failure back into the per-user
// statistics row. It does not touch the confidence manager's adaptive
// threshold.
func recordIntentOutcome(ctx context.Context, db *store.Store, userID int32, intentName string, success bool) {
	historyType := store.ContextTypeHistory
	key := intentStatsPrefix + intentName
	rows, err := db.FindUserContexts(ctx, &store.FindUserContext{UserID: userID, Type: &historyType, Key: &key})
	if err != nil {
		return
	}

	successes, total := 0, 0
	if len(rows) == 1 {
		successes, total, _ = parseRatio(rows[0].Value)
	}
	total++
	if success {
		successes++
	}

	_, _ = db.UpsertUserContext(ctx, &store.UserContext{
		UserID:   userID,
		Type:     store.ContextTypeHistory,
		Key:      key,
		Value:    formatRatio(successes, total),
		Scope:    store.ContextScopeGlobal,
		IsActive: true,
	})
}

func parseRatio(s string) (int, int, bool) {
	a, b, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	successes, err1 := strconv.Atoi(a)
	total, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return successes, total, true
}

func formatRatio(successes, total int) string {
	return strconv.Itoa(successes) + "/" + strconv.Itoa(total)
}
