// Package choice implements the choice parser (C8): turning a user's free
// text reply to a disambiguation prompt into a selected candidate, a
// negative/uncertain signal, or a best-effort guess with reduced
// confidence.
package choice

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hrygo/dialogued/store"
)

// Type is the kind of reply the parser recognized.
type Type string

const (
	TypeNumeric     Type = "numeric"
	TypeTextual     Type = "textual"
	TypeMixed       Type = "mixed"
	TypeDescriptive Type = "descriptive"
	TypeNegative    Type = "negative"
	TypeUncertain   Type = "uncertain"
)

// ConfidenceLevel buckets a parse's confidence for display/logging.
type ConfidenceLevel string

const (
	LevelHigh    ConfidenceLevel = "HIGH"
	LevelMedium  ConfidenceLevel = "MEDIUM"
	LevelLow     ConfidenceLevel = "LOW"
	LevelVeryLow ConfidenceLevel = "VERY_LOW"
)

// MaxClarificationRetries bounds how many consecutive `uncertain` parses the
// orchestrator will re-ask for before escalating to fallback.
const MaxClarificationRetries = 3

// Result is the parser's verdict for one reply.
type Result struct {
	Type            Type
	SelectedOption  string
	SelectedText    string
	Explanation     string
	Alternatives    []store.CandidateIntent
	Corrections     []string
	Confidence      float32
	ConfidenceLevel ConfidenceLevel
}

// Context carries conversation state a later pipeline stage can use to bias
// its guess: recent intents (contextual), the user's habitual choice type
// (user-pattern), and stated preferences.
type Context struct {
	RecentIntents   []string
	UserPreferences map[string]string
	// HabitualType is the choice type (numeric/textual/descriptive) the
	// user has most often used in past disambiguations, if known.
	HabitualType Type
}

var (
	fillerTokens = []string{"额", "呃", "嗯", "那", "这", "就", "我", "要", "选", "的", "是"}
	punctuation  = regexp.MustCompile(`[,.!?；，。！？]`)
	whitespace   = regexp.MustCompile(`\s+`)

	negativePhrases  = []string{"都不是", "不是", "没有", "不对", "错了", "不要", "不需要", "不符合", "不匹配", "不行", "不可以", "取消", "算了"}
	uncertainPhrases = []string{"不知道", "不确定", "不清楚", "不太明白", "不太懂", "看不懂", "不明白", "搞不清", "不太理解", "模糊"}

	multiChoiceConnectors = []string{"和", "还有", "以及", "也要", "都要", "全部"}

	numberWord    = regexp.MustCompile(`第?\s*(\d+)\s*[个号]?|选择\s*(\d+)`)
	chineseDigits = map[rune]int{'一': 1, '二': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9, '十': 10}
)

// Preprocess collapses whitespace, strips leading filler tokens and
// punctuation, and lowercases ASCII — spec.md §4.4 step 1.
func Preprocess(input string) string {
	s := whitespace.ReplaceAllString(strings.TrimSpace(input), " ")
	s = punctuation.ReplaceAllString(s, "")
	for _, filler := range fillerTokens {
		s = strings.TrimPrefix(s, filler)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func containsAny(s string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return p, true
		}
	}
	return "", false
}

func confidenceLevel(c float32) ConfidenceLevel {
	switch {
	case c >= 0.8:
		return LevelHigh
	case c >= 0.6:
		return LevelMedium
	case c >= 0.4:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Parser runs the choice-parser pipeline deterministically (P7): the same
// input and candidate set always produce the same result.
type Parser struct{}

// NewParser returns a stateless Parser.
func NewParser() *Parser { return &Parser{} }

// Parse implements spec.md §4.4's pipeline against candidates.
func (p *Parser) Parse(input string, candidates []store.CandidateIntent, ctx Context) Result {
	pre := Preprocess(input)

	if phrase, ok := containsAny(pre, negativePhrases); ok {
		return Result{Type: TypeNegative, Confidence: 0.9, ConfidenceLevel: confidenceLevel(0.9),
			Explanation: "matched negative phrase: " + phrase}
	}
	if phrase, ok := containsAny(pre, uncertainPhrases); ok {
		return Result{Type: TypeUncertain, Confidence: 0.8, ConfidenceLevel: confidenceLevel(0.8),
			Explanation: "matched uncertain phrase: " + phrase}
	}

	if segments := splitMultiChoice(pre); len(segments) > 1 {
		if result, ok := p.parseMixed(segments, candidates, ctx); ok {
			return result
		}
	}

	if idx, ok := parseNumeric(pre); ok {
		if idx >= 1 && idx <= len(candidates) {
			c := candidates[idx-1]
			return Result{Type: TypeNumeric, SelectedOption: c.Name, SelectedText: c.DisplayName,
				Confidence: 0.95, ConfidenceLevel: confidenceLevel(0.95),
				Explanation: "matched ordinal/numeric selection"}
		}
	}

	if c, score, ok := textualMatch(pre, candidates); ok {
		return Result{Type: TypeTextual, SelectedOption: c.Name, SelectedText: c.DisplayName,
			Confidence: score, ConfidenceLevel: confidenceLevel(score),
			Explanation: "matched candidate name/text"}
	}

	if c, score, ok := contextualMatch(pre, candidates, ctx); ok {
		return Result{Type: TypeTextual, SelectedOption: c.Name, SelectedText: c.DisplayName,
			Confidence: score, ConfidenceLevel: confidenceLevel(score),
			Explanation: "matched via recent-intent context"}
	}

	if c, score, ok := userPatternMatch(pre, candidates, ctx); ok {
		return Result{Type: TypeTextual, SelectedOption: c.Name, SelectedText: c.DisplayName,
			Confidence: score, ConfidenceLevel: confidenceLevel(score),
			Explanation: "matched via user's habitual choice pattern"}
	}

	if c, score, corrections, ok := correctionMatch(pre, candidates); ok {
		return Result{Type: TypeTextual, SelectedOption: c.Name, SelectedText: c.DisplayName,
			Confidence: score, ConfidenceLevel: confidenceLevel(score),
			Corrections: corrections, Explanation: "matched after typo correction"}
	}

	if c, score, ok := descriptiveMatch(pre, candidates); ok && score >= 0.4 {
		return Result{Type: TypeDescriptive, SelectedOption: c.Name, SelectedText: c.DisplayName,
			Confidence: score, ConfidenceLevel: confidenceLevel(score),
			Explanation: "matched via keyword/semantic overlap"}
	}

	return uncertainFallback(candidates)
}

// uncertainFallback produces spec.md §4.4's failure response: an
// `uncertain` result carrying targeted correction suggestions.
func uncertainFallback(candidates []store.CandidateIntent) Result {
	top := candidates
	if len(top) > 3 {
		top = top[:3]
	}
	alt := make([]store.CandidateIntent, len(top))
	copy(alt, top)

	return Result{
		Type:            TypeUncertain,
		Confidence:      0,
		ConfidenceLevel: LevelVeryLow,
		Alternatives:    alt,
		Explanation:     "could not confidently match any candidate; suggest digits or re-description",
	}
}

func splitMultiChoice(pre string) []string {
	s := pre
	for _, conn := range multiChoiceConnectors {
		s = strings.ReplaceAll(s, conn, "|")
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (p *Parser) parseMixed(segments []string, candidates []store.CandidateIntent, ctx Context) (Result, bool) {
	var picked []store.CandidateIntent
	var totalConfidence float32
	for _, seg := range segments {
		if c, score, ok := textualMatch(seg, candidates); ok {
			picked = append(picked, c)
			totalConfidence += score
		}
	}
	if len(picked) < 2 {
		return Result{}, false
	}
	avg := totalConfidence / float32(len(picked))
	return Result{
		Type:            TypeMixed,
		SelectedOption:  picked[0].Name,
		SelectedText:    picked[0].DisplayName,
		Alternatives:    picked[1:],
		Confidence:      avg,
		ConfidenceLevel: confidenceLevel(avg),
		Explanation:     "matched multiple candidates in one reply",
	}, true
}

// parseNumeric extracts a 1-based candidate index from Arabic digits,
// "第N个/选择N/N号" patterns, or Chinese numerals 一..十. A bare digit run is
// only treated as a selection when it isn't embedded inside a longer word
// (e.g. "cance1" is a typo, not a choice of option 1).
func parseNumeric(pre string) (int, bool) {
	if loc := numberWord.FindStringSubmatchIndex(pre); loc != nil {
		if loc[0] == 0 || !unicode.IsLetter(rune(pre[loc[0]-1])) {
			groups := numberWord.FindStringSubmatch(pre)
			for _, g := range groups[1:] {
				if g != "" {
					if n, err := strconv.Atoi(g); err == nil {
						return n, true
					}
				}
			}
		}
	}

	runes := []rune(pre)
	for i, r := range runes {
		if n, ok := chineseDigits[r]; ok {
			return n, true
		}
		if r >= '0' && r <= '9' {
			if i == 0 || !unicode.IsLetter(runes[i-1]) {
				return int(r - '0'), true
			}
		}
	}
	return 0, false
}
