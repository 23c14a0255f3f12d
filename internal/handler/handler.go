// Package handler implements the handler dispatcher (C11): looking up the
// action bound to an intent, invoking it, and rendering the response
// template from the handler's outcome. Handler configs are a tagged variant
// (spec.md §9 "Dynamic-dispatch handlers") dispatched on Type rather than by
// runtime reflection.
package handler

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/store"
)

// MockConfig simulates an out-of-process call for demos and tests: a
// latency range plus a success probability.
type MockConfig struct {
	MinLatencyMs int     `json:"min_latency_ms"`
	MaxLatencyMs int     `json:"max_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
	// Data is echoed back verbatim as the result payload on success,
	// supporting {slot} placeholder expansion.
	Data map[string]string `json:"data"`
}

// RetryPolicy bounds how many times an api_call handler attempts a call
// that fails transiently; MaxAttempts counts every attempt, the first one
// included (spec.md §7: network/5xx/timeout are transient).
type RetryPolicy struct {
	MaxAttempts int `json:"max_attempts"`
	BackoffMs   int `json:"backoff_ms"`
}

// HTTPConfig is the api_call handler shape (spec.md §4.7 and §6): method,
// URL, headers and a JSON body template, every field eligible for {slot}
// placeholder expansion.
type HTTPConfig struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	TimeoutMs  int               `json:"timeout_ms"`
	Retry      RetryPolicy       `json:"retry"`
}

// DBConfig is the database handler shape: a named scoped operation plus
// static parameters, resolved against an operation registry the caller
// supplies (spec.md §1 treats the actual storage engine as out of scope;
// this only covers the dispatch contract).
type DBConfig struct {
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params"`
}

// Config is the tagged variant every handler type decodes into.
type Config struct {
	Type store.HandlerType
	Mock *MockConfig
	HTTP *HTTPConfig
	DB   *DBConfig
}

// Decode converts a registry's opaque HandlerConfig map into a typed Config
// for handlerType.
func Decode(handlerType store.HandlerType, raw map[string]any) (Config, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to marshal handler config")
	}

	cfg := Config{Type: handlerType}
	switch handlerType {
	case store.HandlerMockService:
		var mc MockConfig
		if err := json.Unmarshal(b, &mc); err != nil {
			return Config{}, errors.Wrap(err, "failed to decode mock_service config")
		}
		cfg.Mock = &mc
	case store.HandlerAPICall:
		var hc HTTPConfig
		if err := json.Unmarshal(b, &hc); err != nil {
			return Config{}, errors.Wrap(err, "failed to decode api_call config")
		}
		cfg.HTTP = &hc
	case store.HandlerDatabase:
		var dc DBConfig
		if err := json.Unmarshal(b, &dc); err != nil {
			return Config{}, errors.Wrap(err, "failed to decode database config")
		}
		cfg.DB = &dc
	default:
		return Config{}, errors.Errorf("unknown handler type %q", handlerType)
	}
	return cfg, nil
}

// Result is spec.md §4.7's HandlerResult.
type Result struct {
	Data    map[string]string
	Error   string
	Success bool
}

// Executor runs one handler invocation. Implementations must honor ctx's
// deadline (spec.md §5: handler calls carry their own inner timeout,
// default 30s, configurable per handler).
type Executor interface {
	Execute(ctx context.Context, cfg Config, intentName string, slots map[string]string, reqContext map[string]any) (Result, error)
}

// Dispatcher looks up an intent's handler binding from the registry,
// executes it, and renders the intent's success/failure response template.
type Dispatcher struct {
	reg       *registry.Registry
	mock      Executor
	http      Executor
	db        Executor
	fallbacks map[string]func(map[string]string, map[string]string) string
}

// NewDispatcher builds a Dispatcher. mockRand seeds the mock executor's
// deterministic success-rate draw (pass a fixed-seed rand.Rand in tests);
// nil uses a process-global source.
func NewDispatcher(reg *registry.Registry, mockRand *rand.Rand, httpExec, dbExec Executor) *Dispatcher {
	if httpExec == nil {
		httpExec = NewHTTPExecutor(0)
	}
	if dbExec == nil {
		dbExec = NewNoopDBExecutor()
	}
	return &Dispatcher{
		reg:       reg,
		mock:      NewMockExecutor(mockRand),
		http:      httpExec,
		db:        dbExec,
		fallbacks: map[string]func(map[string]string, map[string]string) string{},
	}
}

// RegisterFallback installs a built-in success formatter for intentName,
// used when the registry's success template is empty or the generic
// default (spec.md §4.7: "per-intent built-in success formatters exist as a
// fallback when the template is the generic default").
func (d *Dispatcher) RegisterFallback(intentName string, fn func(slots, data map[string]string) string) {
	d.fallbacks[intentName] = fn
}

const genericSuccessTemplate = "Done."

// Dispatch executes intentName's bound handler and renders the resulting
// response text. It never returns an error for a handler-level failure —
// that is encoded in the rendered text and the caller's turn status; an
// error return means the handler binding itself could not be resolved.
func (d *Dispatcher) Dispatch(ctx context.Context, intentName string, slots map[string]string, reqContext map[string]any) (Result, string, error) {
	handlerType, raw, ok := d.reg.Handler(intentName)
	if !ok {
		return Result{}, "", errors.Errorf("intent %q has no handler binding", intentName)
	}

	cfg, err := Decode(handlerType, raw)
	if err != nil {
		return Result{}, "", err
	}

	var exec Executor
	switch cfg.Type {
	case store.HandlerMockService:
		exec = d.mock
	case store.HandlerAPICall:
		exec = d.http
	case store.HandlerDatabase:
		exec = d.db
	default:
		return Result{}, "", errors.Errorf("unsupported handler type %q", cfg.Type)
	}

	result, err := exec.Execute(ctx, cfg, intentName, slots, reqContext)
	if err != nil {
		result = Result{Success: false, Error: err.Error()}
	}

	return result, d.render(intentName, slots, result), nil
}

func (d *Dispatcher) render(intentName string, slots map[string]string, result Result) string {
	ic, _ := d.reg.GetIntent(intentName)

	if result.Success {
		template := ""
		if ic != nil {
			template = ic.SuccessTemplate
		}
		if template == "" || template == genericSuccessTemplate {
			if fn, ok := d.fallbacks[intentName]; ok {
				return fn(slots, result.Data)
			}
		}
		if template == "" {
			template = genericSuccessTemplate
		}
		return registry.Render(template, mergeVars(slots, result.Data))
	}

	template := "Sorry, that didn't work: {error_message}"
	if ic != nil && ic.FailureTemplate != "" {
		template = ic.FailureTemplate
	}
	vars := mergeVars(slots, map[string]string{"error_message": result.Error})
	return registry.Render(template, vars)
}

func mergeVars(slots, data map[string]string) map[string]string {
	out := make(map[string]string, len(slots)+len(data))
	for k, v := range slots {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}

// --- mock_service executor ---

type mockExecutor struct {
	rnd *rand.Rand
}

// NewMockExecutor builds the mock_service executor. rnd may be nil to use
// a process-global, non-deterministic source.
func NewMockExecutor(rnd *rand.Rand) Executor {
	return &mockExecutor{rnd: rnd}
}

func (m *mockExecutor) Execute(ctx context.Context, cfg Config, intentName string, slots map[string]string, reqContext map[string]any) (Result, error) {
	if cfg.Mock == nil {
		return Result{}, errors.New("mock_service handler invoked with no Mock config")
	}

	latency := cfg.Mock.MinLatencyMs
	if cfg.Mock.MaxLatencyMs > cfg.Mock.MinLatencyMs {
		latency += m.intn(cfg.Mock.MaxLatencyMs - cfg.Mock.MinLatencyMs)
	}
	select {
	case <-time.After(time.Duration(latency) * time.Millisecond):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if m.float64() > cfg.Mock.SuccessRate {
		return Result{Success: false, Error: "simulated handler failure"}, nil
	}

	data := make(map[string]string, len(cfg.Mock.Data))
	for k, v := range cfg.Mock.Data {
		data[k] = registry.Render(v, slots)
	}
	return Result{Success: true, Data: data}, nil
}

func (m *mockExecutor) intn(n int) int {
	if n <= 0 {
		return 0
	}
	if m.rnd != nil {
		return m.rnd.Intn(n)
	}
	return rand.Intn(n)
}

func (m *mockExecutor) float64() float64 {
	if m.rnd != nil {
		return m.rnd.Float64()
	}
	return rand.Float64()
}

// --- database executor ---

// DBOperation is a named scoped data operation the database handler
// dispatches to. Real storage access lives outside this package's scope
// (spec.md §1 treats persistent storage engines as an external
// collaborator); this is the seam a concrete deployment plugs into.
type DBOperation func(ctx context.Context, params, slots map[string]string) (map[string]string, error)

type dbExecutor struct {
	ops map[string]DBOperation
}

// NewDBExecutor builds a database handler executor dispatching to ops by
// name.
func NewDBExecutor(ops map[string]DBOperation) Executor {
	return &dbExecutor{ops: ops}
}

// NewNoopDBExecutor returns a database executor with no operations
// registered; every call fails, useful until a deployment wires real ones.
func NewNoopDBExecutor() Executor {
	return &dbExecutor{ops: map[string]DBOperation{}}
}

func (d *dbExecutor) Execute(ctx context.Context, cfg Config, intentName string, slots map[string]string, reqContext map[string]any) (Result, error) {
	if cfg.DB == nil {
		return Result{}, errors.New("database handler invoked with no DB config")
	}
	op, ok := d.ops[cfg.DB.Operation]
	if !ok {
		return Result{Success: false, Error: "unknown database operation: " + cfg.DB.Operation}, nil
	}

	data, err := op(ctx, cfg.DB.Params, slots)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Data: data}, nil
}
