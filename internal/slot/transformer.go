// Package slot implements slot normalization, merge/correction semantics,
// and the per-session slot store (C3/C4): the wire value a user typed, the
// store's authoritative normalized value, and a cache sitting in front of
// both.
package slot

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/store"
)

var (
	nonDigitPattern   = regexp.MustCompile(`[^\d.+-]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	phoneStripPattern = regexp.MustCompile(`[^\d]`)
	quantifierPattern = regexp.MustCompile(`^([0-9]+|[零一二两俩三四五六七八九十百]+)`)
	emailPattern      = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	phonePattern      = regexp.MustCompile(`^1[3-9][0-9]{9}$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2006年1月2日",
}

// relativeDateOffsets is spec.md §4.3's relative-term table, evaluated
// against the turn-start wall clock.
var relativeDateOffsets = map[string]int{
	"今天": 0, "today": 0,
	"明天": 1, "tomorrow": 1,
	"后天": 2, "day-after": 2, "day after tomorrow": 2,
	"昨天": -1, "yesterday": -1,
	"前天": -2, "day-before": -2, "day before yesterday": -2,
}

var chineseDigitWords = map[rune]int{'零': 0, '一': 1, '两': 2, '俩': 2, '二': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9}

// Transformer normalizes raw extracted text into each slot type's canonical
// representation. Every method is pure and deterministic (P6: normalization
// idempotence — normalizing an already-normalized value is a no-op).
type Transformer struct{}

// NewTransformer returns a stateless Transformer.
func NewTransformer() *Transformer { return &Transformer{} }

// Normalize converts raw into the canonical form for slotType, resolving any
// relative date term against now (the turn-start wall clock, spec.md §4.3).
// It returns an error when raw cannot be interpreted as that type at all;
// validation rules beyond type-shape (e.g. "date must be in the future")
// belong to the registry's CEL rules, not here.
func (t *Transformer) Normalize(slotType store.SlotType, raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	switch slotType {
	case store.SlotTypeText, store.SlotTypeEnum:
		return t.normalizeText(raw), nil
	case store.SlotTypeNumber:
		return t.normalizeNumber(raw)
	case store.SlotTypeDate:
		return t.normalizeDate(raw, now)
	case store.SlotTypeEmail:
		return t.normalizeEmail(raw)
	case store.SlotTypePhone:
		return t.normalizePhone(raw)
	default:
		return t.normalizeText(raw), nil
	}
}

func (t *Transformer) normalizeText(raw string) string {
	collapsed := whitespacePattern.ReplaceAllString(raw, " ")
	return strings.ToLower(strings.TrimSpace(collapsed))
}

func (t *Transformer) normalizeNumber(raw string) (string, error) {
	if n, ok := parseChineseNumber(raw); ok {
		return strconv.Itoa(n), nil
	}

	if m := quantifierPattern.FindString(raw); m != "" {
		if n, ok := parseChineseNumber(m); ok {
			return strconv.Itoa(n), nil
		}
	}

	cleaned := nonDigitPattern.ReplaceAllString(raw, "")
	if cleaned == "" {
		return "", errors.Errorf("no numeric value found in %q", raw)
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse number from %q", raw)
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// parseChineseNumber handles 零..九, 十 (10), compounds like 十二 (12),
// 二十 (20), 三十五 (35), and colloquial 两/俩 (2). ok is false when raw
// contains no recognizable Chinese digit run.
func parseChineseNumber(raw string) (int, bool) {
	runes := []rune(strings.TrimSpace(raw))
	if len(runes) == 0 {
		return 0, false
	}

	allDigits := true
	for _, r := range runes {
		if r != '十' {
			if _, ok := chineseDigitWords[r]; !ok {
				allDigits = false
				break
			}
		}
	}
	if !allDigits {
		return 0, false
	}

	switch len(runes) {
	case 1:
		if runes[0] == '十' {
			return 10, true
		}
		n, ok := chineseDigitWords[runes[0]]
		return n, ok
	case 2:
		if runes[0] == '十' {
			ones, ok := chineseDigitWords[runes[1]]
			if !ok {
				return 0, false
			}
			return 10 + ones, true
		}
		if runes[1] == '十' {
			tens, ok := chineseDigitWords[runes[0]]
			if !ok {
				return 0, false
			}
			return tens * 10, true
		}
		return 0, false
	case 3:
		if runes[1] != '十' {
			return 0, false
		}
		tens, ok := chineseDigitWords[runes[0]]
		if !ok {
			return 0, false
		}
		ones, ok := chineseDigitWords[runes[2]]
		if !ok {
			return 0, false
		}
		return tens*10 + ones, true
	default:
		return 0, false
	}
}

// normalizeDate resolves spec.md §4.3's relative terms against now, passes
// already-valid YYYY-MM-DD through, and otherwise tries each known layout;
// an unrecognized format is left as the raw trimmed string (caller flags it
// `pending`, not an error here).
func (t *Transformer) normalizeDate(raw string, now time.Time) (string, error) {
	if offset, ok := relativeDateOffsets[strings.ToLower(raw)]; ok {
		return now.AddDate(0, 0, offset).Format("2006-01-02"), nil
	}

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}
	return raw, nil
}

func (t *Transformer) normalizeEmail(raw string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(lower) {
		return "", errors.Errorf("not a valid email: %q", raw)
	}
	return lower, nil
}

func (t *Transformer) normalizePhone(raw string) (string, error) {
	digits := phoneStripPattern.ReplaceAllString(raw, "")
	if !phonePattern.MatchString(digits) {
		return "", errors.Errorf("not a valid mainland mobile number: %q", raw)
	}
	return digits, nil
}

// Merge decides the effective value of a slot given its previously confirmed
// value and a freshly extracted one. A correction (ExtractionCorrection)
// always wins; otherwise the newer extraction replaces the prior value only
// if it validated cleanly, so a failed re-extraction does not clobber a
// known-good slot.
func Merge(prior, next *store.SlotValue) *store.SlotValue {
	if prior == nil {
		return next
	}
	if next == nil {
		return prior
	}
	if next.ExtractionMethod == store.ExtractionCorrection {
		return next
	}
	if next.ValidationStatus == store.ValidationInvalid {
		return prior
	}
	return next
}

// Inherit copies slot values from fromIntent's active set into toIntent's,
// restricted to slotNames shared by both intents (spec.md §4.3 inheritance
// on intent switch). Copied values are tagged ExtractionMigration so
// downstream consumers can tell an inherited value from a freshly extracted
// one.
func Inherit(values map[string]*store.SlotValue, toIntent string, sharedSlotNames []string, turnID int64, sessionID string, now int64) map[string]*store.SlotValue {
	shared := make(map[string]bool, len(sharedSlotNames))
	for _, n := range sharedSlotNames {
		shared[n] = true
	}

	out := make(map[string]*store.SlotValue, len(shared))
	for name, v := range values {
		if !shared[name] || v == nil {
			continue
		}
		cp := *v
		cp.IntentName = toIntent
		cp.ExtractionMethod = store.ExtractionMigration
		cp.ConversationTurnID = turnID
		cp.SessionID = sessionID
		cp.CreatedTs = now
		out[name] = &cp
	}
	return out
}

// Migrate re-validates an older slot row against its intent's current schema
// when the slot's type or requiredness has changed since the row was
// written: rather than silently dropping it, a value that still normalizes
// cleanly under the new type is re-tagged ExtractionMigration and kept; one
// that no longer fits is flagged `pending` so the orchestrator re-prompts for
// it instead of acting on a stale value under a changed schema.
func Migrate(t *Transformer, v *store.SlotValue, newType store.SlotType, now time.Time) *store.SlotValue {
	cp := *v
	cp.ExtractionMethod = store.ExtractionMigration
	cp.CreatedTs = now.Unix()

	normalized, err := t.Normalize(newType, v.ExtractedValue, now)
	if err != nil {
		cp.ValidationStatus = store.ValidationPending
		cp.ValidationError = err.Error()
		return &cp
	}
	cp.NormalizedValue = normalized
	cp.ValidationStatus = store.ValidationPending
	return &cp
}
