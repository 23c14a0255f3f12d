package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// KBResult is spec.md §6's knowledge-base fallback response.
type KBResult struct {
	Answer  string
	Sources []string
	Elapsed time.Duration
	Confidence float32
}

// KBFallback mirrors spec.md §6's query(text, context) contract, invoked
// only when classification yields no usable intent and no pending
// slot/ambiguity/confirmation applies.
type KBFallback interface {
	Query(ctx context.Context, text string, context map[string]any) (KBResult, error)
}

// StaticKBFallback returns a single canned answer regardless of input,
// useful for tests and as the zero-configuration default.
type StaticKBFallback struct {
	Answer string
}

func (s StaticKBFallback) Query(_ context.Context, _ string, _ map[string]any) (KBResult, error) {
	return KBResult{Answer: s.Answer, Confidence: 0}, nil
}

// HTTPKBFallback calls an externally hosted knowledge-base/retrieval
// service, same api_call shape as a handler (spec.md §4.7/§6).
type HTTPKBFallback struct {
	baseURL string
	client  *http.Client
}

// NewHTTPKBFallback builds a fallback targeting baseURL's POST /query.
func NewHTTPKBFallback(baseURL string, timeout time.Duration) *HTTPKBFallback {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPKBFallback{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type kbQueryRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

type kbQueryResponse struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float32  `json:"confidence"`
}

func (h *HTTPKBFallback) Query(ctx context.Context, text string, context map[string]any) (KBResult, error) {
	start := time.Now()
	body, err := json.Marshal(kbQueryRequest{Text: text, Context: context})
	if err != nil {
		return KBResult{}, errors.Wrap(err, "failed to encode kb query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return KBResult{}, errors.Wrap(err, "failed to build kb query request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return KBResult{}, errors.Wrap(err, "kb query failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return KBResult{}, errors.Errorf("kb service returned status %d", resp.StatusCode)
	}

	var out kbQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return KBResult{}, errors.Wrap(err, "failed to decode kb response")
	}

	return KBResult{
		Answer:     out.Answer,
		Sources:    out.Sources,
		Confidence: out.Confidence,
		Elapsed:    time.Since(start),
	}, nil
}
