// Package registry implements the intent/slot configuration registry (C1):
// the source of truth for which intents exist, their slots, prompt
// templates, confidence thresholds, and CEL-expressed validation rules.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/dialogued/store"
)

// snapshot is an immutable view of the registry's configuration, swapped
// atomically on every mutation so readers on the hot turn path never block
// behind a writer (mirrors the routing package's rebuild-then-swap cache).
type snapshot struct {
	intents       map[string]*store.IntentConfig
	slotsByIntent map[string][]*store.SlotConfig
	sortedActive  []*store.IntentConfig
}

func emptySnapshot() *snapshot {
	return &snapshot{
		intents:       map[string]*store.IntentConfig{},
		slotsByIntent: map[string][]*store.SlotConfig{},
	}
}

// Registry holds intent/slot configuration in memory, backed by store
// persistence, and compiles/caches CEL validation programs per slot.
type Registry struct {
	snap atomic.Pointer[snapshot]

	mu     sync.Mutex // serializes writers; readers never take it
	db     *store.Store
	celEnv *cel.Env

	progMu   sync.RWMutex
	programs map[string]cel.Program // key: intent_name + "." + slot_name
}

// New creates an empty registry backed by db. db may be nil for tests that
// only exercise in-memory registration.
func New(db *store.Store) (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.StringType),
		cel.Variable("normalized", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build CEL environment")
	}

	r := &Registry{
		db:       db,
		celEnv:   env,
		programs: make(map[string]cel.Program),
	}
	r.snap.Store(emptySnapshot())
	return r, nil
}

// LoadFromStore replaces the in-memory registry with every intent/slot
// config currently persisted. Intended to run once at startup.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.db == nil {
		return errors.New("registry has no backing store")
	}

	intents, err := r.db.FindIntentConfigs(ctx, false)
	if err != nil {
		return errors.Wrap(err, "failed to load intent configs")
	}

	slotsByIntent := make(map[string][]*store.SlotConfig, len(intents))
	for _, ic := range intents {
		slots, err := r.db.FindSlotConfigs(ctx, ic.IntentName)
		if err != nil {
			return errors.Wrapf(err, "failed to load slot configs for intent %s", ic.IntentName)
		}
		slotsByIntent[ic.IntentName] = slots
	}

	r.replace(intents, slotsByIntent)
	return nil
}

// yamlFixture is the on-disk shape for seeding a registry without a
// database round trip (used by tests and first-run bootstrapping).
type yamlFixture struct {
	Intents []struct {
		store.IntentConfig `yaml:",inline"`
		Slots              []store.SlotConfig `yaml:"slots"`
	} `yaml:"intents"`
}

// LoadYAML seeds the registry from a YAML fixture, replacing any existing
// in-memory configuration. It does not touch the backing store.
func (r *Registry) LoadYAML(data []byte) error {
	var fixture yamlFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return errors.Wrap(err, "failed to parse registry YAML fixture")
	}

	intents := make([]*store.IntentConfig, 0, len(fixture.Intents))
	slotsByIntent := make(map[string][]*store.SlotConfig, len(fixture.Intents))
	for _, entry := range fixture.Intents {
		ic := entry.IntentConfig
		intents = append(intents, &ic)
		slots := make([]*store.SlotConfig, 0, len(entry.Slots))
		for i := range entry.Slots {
			s := entry.Slots[i]
			s.IntentName = ic.IntentName
			slots = append(slots, &s)
		}
		slotsByIntent[ic.IntentName] = slots
	}

	r.replace(intents, slotsByIntent)
	return nil
}

// RegisterIntent upserts a single intent config, persisting it if a store
// is attached, then rebuilds the snapshot.
func (r *Registry) RegisterIntent(ctx context.Context, ic *store.IntentConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		if _, err := r.db.UpsertIntentConfig(ctx, ic); err != nil {
			return errors.Wrap(err, "failed to persist intent config")
		}
	}

	cur := r.snap.Load()
	next := cloneSnapshot(cur)
	next.intents[ic.IntentName] = ic
	r.finalize(next)
	return nil
}

// RegisterSlot upserts a single slot config under its intent.
func (r *Registry) RegisterSlot(ctx context.Context, sc *store.SlotConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		if _, err := r.db.UpsertSlotConfig(ctx, sc); err != nil {
			return errors.Wrap(err, "failed to persist slot config")
		}
	}

	cur := r.snap.Load()
	next := cloneSnapshot(cur)
	slots := next.slotsByIntent[sc.IntentName]
	replaced := false
	for i, existing := range slots {
		if existing.SlotName == sc.SlotName {
			slots[i] = sc
			replaced = true
			break
		}
	}
	if !replaced {
		slots = append(slots, sc)
	}
	next.slotsByIntent[sc.IntentName] = slots
	r.finalize(next)

	r.progMu.Lock()
	delete(r.programs, programKey(sc.IntentName, sc.SlotName))
	r.progMu.Unlock()
	return nil
}

func (r *Registry) replace(intents []*store.IntentConfig, slotsByIntent map[string][]*store.SlotConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	for _, ic := range intents {
		next.intents[ic.IntentName] = ic
	}
	next.slotsByIntent = slotsByIntent
	r.finalize(next)

	r.progMu.Lock()
	r.programs = make(map[string]cel.Program)
	r.progMu.Unlock()
}

func (r *Registry) finalize(next *snapshot) {
	active := make([]*store.IntentConfig, 0, len(next.intents))
	for _, ic := range next.intents {
		if ic.IsActive {
			active = append(active, ic)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })
	next.sortedActive = active
	r.snap.Store(next)
}

func cloneSnapshot(s *snapshot) *snapshot {
	next := &snapshot{
		intents:       make(map[string]*store.IntentConfig, len(s.intents)),
		slotsByIntent: make(map[string][]*store.SlotConfig, len(s.slotsByIntent)),
	}
	for k, v := range s.intents {
		next.intents[k] = v
	}
	for k, v := range s.slotsByIntent {
		cp := make([]*store.SlotConfig, len(v))
		copy(cp, v)
		next.slotsByIntent[k] = cp
	}
	return next
}

// GetIntent returns the config for name, or false if unknown.
func (r *Registry) GetIntent(name string) (*store.IntentConfig, bool) {
	s := r.snap.Load()
	ic, ok := s.intents[name]
	return ic, ok
}

// ActiveIntents returns every active intent, ordered highest-priority first.
// The slice is read-only; callers must not mutate it.
func (r *Registry) ActiveIntents() []*store.IntentConfig {
	return r.snap.Load().sortedActive
}

// ActiveIntentNames is a convenience wrapper for NLU adapters that only need
// the candidate name list.
func (r *Registry) ActiveIntentNames() []string {
	active := r.ActiveIntents()
	names := make([]string, len(active))
	for i, ic := range active {
		names[i] = ic.IntentName
	}
	return names
}

// GetSlots returns the slot configs declared for intentName, required slots
// first, in declaration order within each group.
func (r *Registry) GetSlots(intentName string) []*store.SlotConfig {
	slots := r.snap.Load().slotsByIntent[intentName]
	out := make([]*store.SlotConfig, len(slots))
	copy(out, slots)
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsRequired && !out[j].IsRequired })
	return out
}

// GetSlot returns a single slot's config.
func (r *Registry) GetSlot(intentName, slotName string) (*store.SlotConfig, bool) {
	for _, sc := range r.snap.Load().slotsByIntent[intentName] {
		if sc.SlotName == slotName {
			return sc, true
		}
	}
	return nil, false
}

// intRule reads an integer-valued validation rule. YAML and JSON decode
// numeric rules as different concrete types (int, int64, float64) depending
// on the source, so this normalizes across them.
func intRule(rules map[string]any, key string) (int, bool) {
	v, ok := rules[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func programKey(intentName, slotName string) string {
	return intentName + "." + slotName
}

// ValidateSlotValue enforces a slot's validation rules against normalized:
// the spec's length bounds (`min_length`/`max_length`, checked against rune
// count) if configured, then the "rule" CEL boolean expression over `value`
// and `normalized` if one is configured. A slot with neither always
// validates.
func (r *Registry) ValidateSlotValue(intentName, slotName, value, normalized string) (bool, error) {
	sc, ok := r.GetSlot(intentName, slotName)
	if !ok {
		return false, errors.Errorf("unknown slot %s.%s", intentName, slotName)
	}

	n := len([]rune(normalized))
	if min, ok := intRule(sc.ValidationRules, "min_length"); ok && n < min {
		return false, nil
	}
	if max, ok := intRule(sc.ValidationRules, "max_length"); ok && n > max {
		return false, nil
	}

	rule, ok := sc.ValidationRules["rule"]
	if !ok {
		return true, nil
	}
	expr, ok := rule.(string)
	if !ok || expr == "" {
		return true, nil
	}

	key := programKey(intentName, slotName)
	r.progMu.RLock()
	prg, cached := r.programs[key]
	r.progMu.RUnlock()

	if !cached {
		ast, iss := r.celEnv.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return false, errors.Wrapf(iss.Err(), "failed to compile validation rule for %s", key)
		}
		compiled, err := r.celEnv.Program(ast)
		if err != nil {
			return false, errors.Wrapf(err, "failed to build validation program for %s", key)
		}
		prg = compiled
		r.progMu.Lock()
		r.programs[key] = prg
		r.progMu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"value": value, "normalized": normalized})
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate validation rule for %s", key)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("validation rule for %s did not return a boolean", key)
	}
	return result, nil
}

// Handler returns the handler binding configured for intentName: which
// handler type to dispatch to (C11) and its opaque JSON configuration.
// ok is false when the intent is unknown or has no handler bound at all
// (e.g. a pure Q&A intent answered entirely from a response template).
func (r *Registry) Handler(intentName string) (store.HandlerType, map[string]any, bool) {
	ic, ok := r.GetIntent(intentName)
	if !ok || ic.HandlerType == "" {
		return "", nil, false
	}
	return ic.HandlerType, ic.HandlerConfig, true
}

// Render substitutes "{name}" placeholders in template with vars, leaving
// any unmatched placeholder untouched (so a missing slot is visible instead
// of silently vanishing).
func Render(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, fmt.Sprintf("{%s}", k), v)
	}
	return out
}
