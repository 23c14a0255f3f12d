// Package nlu wraps an external (or built-in) intent classifier behind a
// single Adapter contract (C2): recognize(text, activeIntents, context) →
// ranked candidates with confidences and entity spans.
package nlu

import "context"

// Candidate is one ranked intent guess.
type Candidate struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
}

// Entity is a named span extracted from the input text, consumed by the
// slot transformer.
type Entity struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float32 `json:"confidence"`
	Span       [2]int  `json:"span,omitempty"`
}

// Result is the NLU adapter's output for one turn.
type Result struct {
	TopIntent  *Candidate  `json:"top_intent,omitempty"`
	Unknown    bool        `json:"unknown"`
	Alternates []Candidate `json:"alternatives"`
	Entities   []Entity    `json:"entities"`
	Reasoning  string      `json:"reasoning,omitempty"`
}

// RecognitionContext carries the conversation state an adapter may use to
// disambiguate (current intent, recent history, known slot values).
type RecognitionContext struct {
	SessionID     string
	CurrentIntent string
	RecentInputs  []string
	KnownSlots    map[string]string
}

// Adapter matches spec.md §6's NLU adapter contract exactly.
type Adapter interface {
	Recognize(ctx context.Context, text string, activeIntents []string, rc RecognitionContext) (Result, error)
}
