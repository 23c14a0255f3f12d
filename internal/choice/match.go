package choice

import (
	"strings"
	"unicode"

	"github.com/hrygo/dialogued/store"
)

// tokenize splits ASCII text on whitespace and splits CJK runs into
// per-character tokens, since Chinese text carries no word boundaries.
func tokenize(s string) []string {
	var tokens []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float32 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter, union := 0, len(b)
	for t := range a {
		if b[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// textualMatch implements spec.md §4.4 step 5: substring match against
// display_name/intent_name, else tokenized overlap, else Jaccard ≥ 0.6.
func textualMatch(pre string, candidates []store.CandidateIntent) (store.CandidateIntent, float32, bool) {
	for _, c := range candidates {
		if strings.Contains(pre, strings.ToLower(c.DisplayName)) || strings.Contains(pre, strings.ToLower(c.Name)) {
			return c, 0.9, true
		}
	}

	inputTokens := tokenSet(pre)
	var best store.CandidateIntent
	var bestScore float32
	for _, c := range candidates {
		candTokens := tokenSet(strings.ToLower(c.DisplayName + " " + c.Name))
		score := jaccard(inputTokens, candTokens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore >= 0.6 {
		return best, bestScore, true
	}
	return store.CandidateIntent{}, 0, false
}

// contextualMatch biases toward a candidate whose name appeared among the
// session's recent intents, per spec.md §4.4 step 6.
func contextualMatch(pre string, candidates []store.CandidateIntent, ctx Context) (store.CandidateIntent, float32, bool) {
	recent := make(map[string]bool, len(ctx.RecentIntents))
	for _, name := range ctx.RecentIntents {
		recent[name] = true
	}
	if len(recent) == 0 {
		return store.CandidateIntent{}, 0, false
	}

	for _, c := range candidates {
		if recent[c.Name] {
			return c, 0.65, true
		}
	}
	return store.CandidateIntent{}, 0, false
}

// userPatternMatch biases toward the user's habitual choice type (spec.md
// §4.4 step 7): if the user usually answers numerically but this input
// parses as a bare small number we've already handled it earlier in the
// pipeline, so here we only bias textual guesses when no other signal fired.
func userPatternMatch(pre string, candidates []store.CandidateIntent, ctx Context) (store.CandidateIntent, float32, bool) {
	if ctx.HabitualType != TypeTextual || len(candidates) == 0 {
		return store.CandidateIntent{}, 0, false
	}

	var best store.CandidateIntent
	var bestScore float32
	inputTokens := tokenSet(pre)
	for _, c := range candidates {
		candTokens := tokenSet(strings.ToLower(c.DisplayName + " " + c.Name))
		score := jaccard(inputTokens, candTokens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore >= 0.4 {
		return best, bestScore + 0.05, true
	}
	return store.CandidateIntent{}, 0, false
}

var typoSubstitutions = map[rune]rune{
	'l': '1', 'I': '1', 'o': '0', 'O': '0',
	'１': '1', '２': '2', '３': '3', '４': '4', '５': '5',
	'６': '6', '７': '7', '８': '8', '９': '9', '０': '0',
}

func canonicalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if sub, ok := typoSubstitutions[r]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// levenshtein computes edit distance between a and b.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur := make([]int, len(b)+1)
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// similarityRatio converts edit distance to a [0,1] similarity score, the
// way common fuzzy-match libraries define ratio.
func similarityRatio(a, b string) float32 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(ra, rb)
	return 1 - float32(dist)/float32(maxLen)
}

// correctionMatch implements spec.md §4.4 step 8: canonicalize common typos
// then fall back to string-similarity ≥ 0.7 as a last-resort, lower
// confidence pick.
func correctionMatch(pre string, candidates []store.CandidateIntent) (store.CandidateIntent, float32, []string, bool) {
	canon := canonicalize(pre)
	var corrections []string
	if canon != pre {
		corrections = append(corrections, "normalized lookalike characters: "+pre+" -> "+canon)
	}

	var best store.CandidateIntent
	var bestScore float32
	for _, c := range candidates {
		score := similarityRatio(canon, strings.ToLower(c.DisplayName))
		if altScore := similarityRatio(canon, strings.ToLower(c.Name)); altScore > score {
			score = altScore
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore >= 0.7 {
		return best, bestScore * 0.85, corrections, true
	}
	return store.CandidateIntent{}, 0, nil, false
}

// descriptiveMatch implements spec.md §4.4 step 9: keyword overlap and a
// token-Jaccard stand-in for semantic similarity, combined 0.6/0.4.
func descriptiveMatch(pre string, candidates []store.CandidateIntent) (store.CandidateIntent, float32, bool) {
	inputTokens := tokenSet(pre)
	var best store.CandidateIntent
	var bestScore float32
	for _, c := range candidates {
		candTokens := tokenSet(strings.ToLower(c.DisplayName + " " + c.Name))
		kw := jaccard(inputTokens, candTokens)
		sem := kw // no embedding model available; token overlap stands in for semantic similarity
		score := 0.6*kw + 0.4*sem
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, bestScore, bestScore > 0
}
