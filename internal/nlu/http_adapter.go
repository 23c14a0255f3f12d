package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// HTTPAdapter calls an externally hosted classifier over plain JSON/HTTP,
// for deployments that plug in a real NLU service instead of the mock.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPAdapter builds an adapter targeting baseURL (expected to expose a
// POST /recognize endpoint). timeout bounds every request.
func NewHTTPAdapter(baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type httpRecognizeRequest struct {
	Text          string            `json:"text"`
	ActiveIntents []string          `json:"active_intents"`
	SessionID     string            `json:"session_id,omitempty"`
	CurrentIntent string            `json:"current_intent,omitempty"`
	RecentInputs  []string          `json:"recent_inputs,omitempty"`
	KnownSlots    map[string]string `json:"known_slots,omitempty"`
}

type httpRecognizeResponse struct {
	TopIntent  *Candidate  `json:"top_intent"`
	Unknown    bool        `json:"unknown"`
	Alternates []Candidate `json:"alternatives"`
	Entities   []Entity    `json:"entities"`
	Reasoning  string      `json:"reasoning"`
}

func (a *HTTPAdapter) Recognize(ctx context.Context, text string, activeIntents []string, rc RecognitionContext) (Result, error) {
	body, err := json.Marshal(httpRecognizeRequest{
		Text:          text,
		ActiveIntents: activeIntents,
		SessionID:     rc.SessionID,
		CurrentIntent: rc.CurrentIntent,
		RecentInputs:  rc.RecentInputs,
		KnownSlots:    rc.KnownSlots,
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to encode recognize request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/recognize", bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to build recognize request")
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "nlu request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, errors.Errorf("nlu service returned status %d", resp.StatusCode)
	}

	var out httpRecognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, errors.Wrap(err, "failed to decode recognize response")
	}

	return Result{
		TopIntent:  out.TopIntent,
		Unknown:    out.Unknown,
		Alternates: out.Alternates,
		Entities:   out.Entities,
		Reasoning:  out.Reasoning,
	}, nil
}
