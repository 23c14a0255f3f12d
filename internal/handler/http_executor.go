package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/registry"
)

// httpExecutor is the api_call handler (spec.md §4.7/§6): any 2xx response
// with a valid JSON body is success; anything else is failure with the
// HTTP status folded into the error text. Transient failures (network,
// 5xx, timeout) are attempted up to cfg.HTTP.Retry.MaxAttempts times in
// total (at least once), with a fixed backoff between attempts; 4xx
// responses are never retried (spec.md §7).
type httpExecutor struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPExecutor builds the api_call executor. defaultTimeout is used when
// a handler's own config omits one (0 means fall back to 30s, spec.md's
// documented handler_default_timeout_ms).
func NewHTTPExecutor(defaultTimeout time.Duration) Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &httpExecutor{client: &http.Client{}, defaultTimeout: defaultTimeout}
}

func (h *httpExecutor) Execute(ctx context.Context, cfg Config, intentName string, slots map[string]string, reqContext map[string]any) (Result, error) {
	if cfg.HTTP == nil {
		return Result{}, errors.New("api_call handler invoked with no HTTP config")
	}

	timeout := h.defaultTimeout
	if cfg.HTTP.TimeoutMs > 0 {
		timeout = time.Duration(cfg.HTTP.TimeoutMs) * time.Millisecond
	}

	attempts := cfg.HTTP.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := time.Duration(cfg.HTTP.Retry.BackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		result, transient, err := h.attempt(ctx, cfg.HTTP, slots, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !transient {
			return Result{Success: false, Error: err.Error()}, nil
		}
	}
	return Result{Success: false, Error: lastErr.Error()}, nil
}

// attempt runs a single HTTP call. The bool return reports whether a
// failure is transient and worth retrying.
func (h *httpExecutor) attempt(ctx context.Context, cfg *HTTPConfig, slots map[string]string, timeout time.Duration) (Result, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	url := registry.Render(cfg.URL, slots)
	body := registry.Render(cfg.Body, slots)

	req, err := http.NewRequestWithContext(callCtx, method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return Result{}, false, errors.Wrap(err, "failed to build handler request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, registry.Render(v, slots))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Network errors (including context deadline) are transient.
		return Result{}, true, errors.Wrap(err, "handler request failed")
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return Result{}, true, errors.Wrap(readErr, "failed to read handler response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transient := resp.StatusCode >= 500
		return Result{}, transient, errors.Errorf("handler returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var data map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Result{}, false, errors.Wrap(err, "handler returned invalid JSON")
		}
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = coerceString(v)
	}
	return Result{Success: true, Data: out}, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
