package orchestrator

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/internal/ambiguity"
	"github.com/hrygo/dialogued/internal/choice"
	"github.com/hrygo/dialogued/internal/confidence"
	"github.com/hrygo/dialogued/internal/confirmation"
	"github.com/hrygo/dialogued/internal/handler"
	"github.com/hrygo/dialogued/internal/nlu"
	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/internal/resolver"
	"github.com/hrygo/dialogued/internal/session"
	"github.com/hrygo/dialogued/internal/slot"
	"github.com/hrygo/dialogued/store"
)

// fakeDriver is an in-memory store.Driver covering every entity the
// orchestrator's full turn cycle touches, in the same partial-embedding
// style the other component tests use.
type fakeDriver struct {
	store.Driver

	sessions      []*store.Session
	turns         []*store.ConversationTurn
	nextTurn      int64
	slotValues    []*store.SlotValue
	ambiguities   []*store.IntentAmbiguity
	nextAmbiguity int64
	transfers     []*store.IntentTransfer
	userContexts  []*store.UserContext
	confirmations []*store.ConfirmationRequest
	users         map[int32]*store.User

	failFindSlotValues bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{users: make(map[int32]*store.User)}
}

func (f *fakeDriver) CreateSession(_ context.Context, s *store.Session) (*store.Session, error) {
	cp := *s
	f.sessions = append(f.sessions, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindSession(_ context.Context, find *store.FindSession) ([]*store.Session, error) {
	var out []*store.Session
	for _, s := range f.sessions {
		if find.ID != nil && s.ID != *find.ID {
			continue
		}
		if find.UserID != nil && s.UserID != *find.UserID {
			continue
		}
		if find.State != nil && s.State != *find.State {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeDriver) UpdateSession(_ context.Context, update *store.UpdateSession) (*store.Session, error) {
	for _, s := range f.sessions {
		if s.ID == update.ID {
			if update.State != nil {
				s.State = *update.State
			}
			if update.Context != nil {
				s.Context = update.Context
			}
			if update.ExpiresAt != nil {
				s.ExpiresAt = update.ExpiresAt
			}
			return s, nil
		}
	}
	return nil, errNotFound
}

var errNotFound = assertErr("not found")

type assertErr string

func (e assertErr) Error() string { return string(e) }

func (f *fakeDriver) CreateTurn(_ context.Context, t *store.ConversationTurn) (*store.ConversationTurn, error) {
	f.nextTurn++
	cp := *t
	cp.TurnID = f.nextTurn
	f.turns = append(f.turns, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindTurns(_ context.Context, find *store.FindConversationTurn) ([]*store.ConversationTurn, error) {
	excluded := make(map[store.TurnStatus]bool, len(find.ExcludeStatus))
	for _, s := range find.ExcludeStatus {
		excluded[s] = true
	}
	var out []*store.ConversationTurn
	for _, t := range f.turns {
		if t.SessionID != find.SessionID {
			continue
		}
		if !find.IncludeAllRows && excluded[t.Status] {
			continue
		}
		out = append(out, t)
	}
	if find.Limit > 0 && len(out) > find.Limit {
		out = out[len(out)-find.Limit:]
	}
	return out, nil
}

func (f *fakeDriver) CreateSlotValue(_ context.Context, v *store.SlotValue) (*store.SlotValue, error) {
	cp := *v
	f.slotValues = append(f.slotValues, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindSlotValues(_ context.Context, find *store.FindSlotValue) ([]*store.SlotValue, error) {
	if f.failFindSlotValues {
		return nil, errNotFound
	}
	var out []*store.SlotValue
	for _, v := range f.slotValues {
		if v.SessionID != find.SessionID || v.IntentName != find.IntentName {
			continue
		}
		if find.SlotName != "" && v.SlotName != find.SlotName {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeDriver) CreateAmbiguity(_ context.Context, a *store.IntentAmbiguity) (*store.IntentAmbiguity, error) {
	f.nextAmbiguity++
	cp := *a
	cp.ID = f.nextAmbiguity
	f.ambiguities = append(f.ambiguities, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindAmbiguities(_ context.Context, find *store.FindIntentAmbiguity) ([]*store.IntentAmbiguity, error) {
	var out []*store.IntentAmbiguity
	for _, a := range f.ambiguities {
		if find.SessionID != nil && a.SessionID != *find.SessionID {
			continue
		}
		if find.Resolved != nil && a.Resolved != *find.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeDriver) ResolveAmbiguity(_ context.Context, id int64, userChoice, resolvedIntent string, method store.ResolutionMethod, resolvedAt int64) (*store.IntentAmbiguity, error) {
	for _, a := range f.ambiguities {
		if a.ID == id {
			a.UserChoice = userChoice
			a.ResolvedIntent = resolvedIntent
			a.ResolutionMethod = method
			a.ResolvedAt = &resolvedAt
			a.Resolved = true
			return a, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeDriver) IncrementAmbiguityRetry(_ context.Context, id int64) (*store.IntentAmbiguity, error) {
	for _, a := range f.ambiguities {
		if a.ID == id {
			a.RetryCount++
			return a, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeDriver) CreateTransfer(_ context.Context, t *store.IntentTransfer) (*store.IntentTransfer, error) {
	cp := *t
	f.transfers = append(f.transfers, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindTransfers(_ context.Context, find *store.FindIntentTransfer) ([]*store.IntentTransfer, error) {
	var out []*store.IntentTransfer
	for _, tr := range f.transfers {
		if find.SessionID != nil && tr.SessionID != *find.SessionID {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (f *fakeDriver) UpsertUserContext(_ context.Context, c *store.UserContext) (*store.UserContext, error) {
	for _, row := range f.userContexts {
		if row.UserID == c.UserID && row.Type == c.Type && row.Key == c.Key {
			row.Value = c.Value
			row.IsActive = c.IsActive
			return row, nil
		}
	}
	cp := *c
	f.userContexts = append(f.userContexts, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindUserContexts(_ context.Context, find *store.FindUserContext) ([]*store.UserContext, error) {
	var out []*store.UserContext
	for _, row := range f.userContexts {
		if row.UserID != find.UserID {
			continue
		}
		if find.Type != nil && row.Type != *find.Type {
			continue
		}
		if find.Key != nil && row.Key != *find.Key {
			continue
		}
		if find.ActiveOnly && !row.IsActive {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeDriver) CreateConfirmation(_ context.Context, c *store.ConfirmationRequest) (*store.ConfirmationRequest, error) {
	cp := *c
	f.confirmations = append(f.confirmations, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindConfirmations(_ context.Context, find *store.FindConfirmationRequest) ([]*store.ConfirmationRequest, error) {
	var out []*store.ConfirmationRequest
	for _, c := range f.confirmations {
		if find.RequestID != nil && c.RequestID != *find.RequestID {
			continue
		}
		if find.SessionID != nil && c.SessionID != *find.SessionID {
			continue
		}
		if find.Pending && c.ResolvedAt != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeDriver) ResolveConfirmation(_ context.Context, requestID string, resolvedAt int64) (*store.ConfirmationRequest, error) {
	for _, c := range f.confirmations {
		if c.RequestID == requestID {
			c.ResolvedAt = &resolvedAt
			return c, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeDriver) FindOrCreateUser(_ context.Context, id int32) (*store.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	u := &store.User{ID: id, UserType: store.UserTypeExpert}
	f.users[id] = u
	return u, nil
}

// stubNLU returns queued results in order, then "unknown" once exhausted.
type stubNLU struct {
	results []nlu.Result
	i       int
}

func (s *stubNLU) Recognize(_ context.Context, _ string, _ []string, _ nlu.RecognitionContext) (nlu.Result, error) {
	if s.i >= len(s.results) {
		return nlu.Result{Unknown: true}, nil
	}
	r := s.results[s.i]
	s.i++
	return r, nil
}

// testHarness bundles a fresh Orchestrator plus everything a test might
// want to inspect or script (the fake driver and the queued NLU results).
type testHarness struct {
	orch *Orchestrator
	db   *fakeDriver
	nlu  *stubNLU
	reg  *registry.Registry
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	reg, err := registry.New(nil)
	require.NoError(t, err)

	require.NoError(t, reg.RegisterIntent(context.Background(), &store.IntentConfig{
		IntentName: "check_weather", DisplayName: "查天气", Category: "query",
		ConfidenceThreshold: 0.60, IsActive: true,
		SuccessTemplate:  "{city}的天气是晴天",
		FallbackResponse: "没听懂",
		HandlerType:      store.HandlerMockService,
		HandlerConfig: map[string]any{
			"min_latency_ms": 0, "max_latency_ms": 0, "success_rate": 1.0,
			"data": map[string]any{},
		},
	}))
	require.NoError(t, reg.RegisterSlot(context.Background(), &store.SlotConfig{
		IntentName: "check_weather", SlotName: "city", SlotType: store.SlotTypeText,
		IsRequired: true, PromptTemplate: "请问查询哪个城市？",
	}))

	require.NoError(t, reg.RegisterIntent(context.Background(), &store.IntentConfig{
		IntentName: "book_flight", DisplayName: "订机票", Category: "booking",
		ConfidenceThreshold: 0.60, IsActive: true,
		ConfirmationTemplate: "确认预订{city}的机票吗？",
		SuccessTemplate:      "已为您预订{city}的机票",
		FallbackResponse:     "没听懂",
		HandlerType:          store.HandlerMockService,
		HandlerConfig: map[string]any{
			"min_latency_ms": 0, "max_latency_ms": 0, "success_rate": 1.0,
			"data": map[string]any{},
		},
	}))
	require.NoError(t, reg.RegisterSlot(context.Background(), &store.SlotConfig{
		IntentName: "book_flight", SlotName: "city", SlotType: store.SlotTypeText,
		IsRequired: true, PromptTemplate: "请问从哪个城市出发？",
	}))

	require.NoError(t, reg.RegisterIntent(context.Background(), &store.IntentConfig{
		IntentName: "book_train", DisplayName: "订火车票", Category: "booking",
		ConfidenceThreshold: 0.60, IsActive: true,
		ConfirmationTemplate: "确认预订{city}的火车票吗？",
		SuccessTemplate:      "已为您预订{city}的火车票",
		FallbackResponse:     "没听懂",
		HandlerType:          store.HandlerMockService,
		HandlerConfig: map[string]any{
			"min_latency_ms": 0, "max_latency_ms": 0, "success_rate": 1.0,
			"data": map[string]any{},
		},
	}))
	require.NoError(t, reg.RegisterSlot(context.Background(), &store.SlotConfig{
		IntentName: "book_train", SlotName: "city", SlotType: store.SlotTypeText,
		IsRequired: true, PromptTemplate: "请问从哪个城市出发？",
	}))

	fd := newFakeDriver()
	db := store.New(fd)

	sessions := session.NewManager(db, 10, time.Hour)
	slotStore := slot.NewStore(db, 64, time.Hour)
	transform := slot.NewTransformer()
	stub := &stubNLU{}
	confMgr := confidence.NewManager(reg, confidence.DefaultBands())
	ambDet := ambiguity.NewDetector(ambiguity.DefaultConfig())
	resolve := resolver.NewResolver(nil)
	choiceP := choice.NewParser()
	confirmMgr := confirmation.NewManager(db, reg, confMgr, time.Minute, confirmation.PolicyFlags{})
	dispatcher := handler.NewDispatcher(reg, rand.New(rand.NewSource(1)), nil, nil)
	kb := handler.StaticKBFallback{Answer: "我不太明白您的意思"}

	orch := New(db, reg, sessions, slotStore, transform, stub, confMgr, ambDet, resolve, choiceP, confirmMgr, dispatcher, kb, 5*time.Second)

	return &testHarness{orch: orch, db: fd, nlu: stub, reg: reg}
}

func TestHandleTurn_ReadIntentImplicitConfirmExecutesDirectly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{TopIntent: &nlu.Candidate{Name: "check_weather", Confidence: 0.9}},
	}

	res, err := h.orch.HandleTurn(ctx, 1, "", "今天天气怎么样", nil)
	require.NoError(t, err)
	assert.Equal(t, store.TurnStatusIncomplete, res.Status)
	assert.Equal(t, NextCollectMissingSlots, res.NextAction)
	assert.Contains(t, res.MissingSlots, "city")

	res2, err := h.orch.HandleTurn(ctx, 1, res.SessionID, "北京", nil)
	require.NoError(t, err)
	assert.Equal(t, store.TurnStatusCompleted, res2.Status)
	assert.Equal(t, store.ResponseTypeAPIResult, res2.ResponseType)
	assert.Equal(t, NextNone, res2.NextAction)
	require.Len(t, h.db.confirmations, 1)
	assert.Equal(t, store.ConfirmationImplicit, h.db.confirmations[0].Strategy)
	assert.NotNil(t, h.db.confirmations[0].ResolvedAt)
}

func TestHandleTurn_BookingIntentRequiresExplicitConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{TopIntent: &nlu.Candidate{Name: "book_flight", Confidence: 0.95}},
	}

	res, err := h.orch.HandleTurn(ctx, 1, "", "我要订机票", nil)
	require.NoError(t, err)
	require.Equal(t, NextCollectMissingSlots, res.NextAction)

	res2, err := h.orch.HandleTurn(ctx, 1, res.SessionID, "上海", nil)
	require.NoError(t, err)
	require.Equal(t, store.TurnStatusAwaitingConfirm, res2.Status)
	require.Equal(t, NextUserConfirmation, res2.NextAction)
	require.Len(t, h.db.confirmations, 1)
	assert.Equal(t, store.ConfirmationExplicit, h.db.confirmations[0].Strategy)
	assert.Nil(t, h.db.confirmations[0].ResolvedAt)

	res3, err := h.orch.HandleTurn(ctx, 1, res.SessionID, "确认", nil)
	require.NoError(t, err)
	assert.Equal(t, store.TurnStatusCompleted, res3.Status)
	assert.Equal(t, "book_flight", res3.Intent)
}

func TestHandleTurn_BookingCancelledOnExplicitReject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{TopIntent: &nlu.Candidate{Name: "book_flight", Confidence: 0.95}},
	}

	res, err := h.orch.HandleTurn(ctx, 1, "", "我要订机票", nil)
	require.NoError(t, err)
	res2, err := h.orch.HandleTurn(ctx, 1, res.SessionID, "上海", nil)
	require.NoError(t, err)
	require.Equal(t, store.TurnStatusAwaitingConfirm, res2.Status)

	res3, err := h.orch.HandleTurn(ctx, 1, res.SessionID, "算了，取消吧", nil)
	require.NoError(t, err)
	assert.Equal(t, store.TurnStatusCancelled, res3.Status)
	assert.Equal(t, store.ResponseTypeCancellation, res3.ResponseType)
}

func TestHandleTurn_AmbiguousCandidatesPersistThenResolveByUserChoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{
			TopIntent:  &nlu.Candidate{Name: "book_flight", Confidence: 0.72},
			Alternates: []nlu.Candidate{{Name: "book_train", Confidence: 0.68}},
		},
	}

	res, err := h.orch.HandleTurn(ctx, 1, "", "我要订票去上海", nil)
	require.NoError(t, err)
	require.Equal(t, store.TurnStatusAmbiguous, res.Status)
	require.Equal(t, NextUserChoice, res.NextAction)
	require.Len(t, res.AmbiguousIntents, 2)
	require.Len(t, h.db.ambiguities, 1)

	// Reply "1" to pick the first candidate (book_flight).
	res2, err := h.orch.HandleTurn(ctx, 1, res.SessionID, "1", nil)
	require.NoError(t, err)
	require.Equal(t, NextCollectMissingSlots, res2.NextAction)
	assert.Equal(t, "book_flight", res2.Intent)
	assert.True(t, h.db.ambiguities[0].Resolved)
	assert.Equal(t, store.ResolutionUserChoice, h.db.ambiguities[0].ResolutionMethod)
}

func TestHandleTurn_AmbiguityEscalatesAfterMaxUncertainRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{
			TopIntent:  &nlu.Candidate{Name: "book_flight", Confidence: 0.72},
			Alternates: []nlu.Candidate{{Name: "book_train", Confidence: 0.68}},
		},
	}

	res, err := h.orch.HandleTurn(ctx, 1, "", "我要订票去上海", nil)
	require.NoError(t, err)
	sessionID := res.SessionID

	var last *TurnResult
	for i := 0; i < choice.MaxClarificationRetries+1; i++ {
		last, err = h.orch.HandleTurn(ctx, 1, sessionID, "不知道", nil)
		require.NoError(t, err)
	}

	// After MaxClarificationRetries consecutive "uncertain" replies, the
	// ambiguity escalates to the knowledge-base fallback instead of asking
	// again.
	assert.Equal(t, store.TurnStatusNonIntentInput, last.Status)
	assert.True(t, h.db.ambiguities[0].Resolved)
	assert.Equal(t, store.ResolutionEscalate, h.db.ambiguities[0].ResolutionMethod)
}

func TestHandleTurn_UnrecognizedInputFallsBackToKB(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{{Unknown: true}}

	res, err := h.orch.HandleTurn(ctx, 1, "", "今天心情不错", nil)
	require.NoError(t, err)
	assert.Equal(t, store.TurnStatusNonIntentInput, res.Status)
	assert.Equal(t, store.ResponseTypeQAResponse, res.ResponseType)
	assert.Equal(t, "我不太明白您的意思", res.Response)
}

func TestHandleTurn_SecondCallOnSameSessionWhileFirstInFlightIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{TopIntent: &nlu.Candidate{Name: "check_weather", Confidence: 0.9}},
	}
	res, err := h.orch.HandleTurn(ctx, 1, "", "今天天气怎么样", nil)
	require.NoError(t, err)

	release, err := h.orch.gate.acquire(res.SessionID)
	require.NoError(t, err)
	defer release()

	_, err = h.orch.HandleTurn(ctx, 1, res.SessionID, "北京", nil)
	assert.Error(t, err)
}

func TestHandleTurn_SubsystemFailureStillPersistsSystemErrorTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.nlu.results = []nlu.Result{
		{TopIntent: &nlu.Candidate{Name: "check_weather", Confidence: 0.9}},
	}
	h.db.failFindSlotValues = true

	res, err := h.orch.HandleTurn(ctx, 1, "", "今天天气怎么样", nil)
	require.NoError(t, err, "a subsystem error must still yield a terminal TurnResult, not a bare error")
	assert.Equal(t, store.TurnStatusSystemError, res.Status)
	assert.Equal(t, store.ResponseTypeErrorAlternatives, res.ResponseType)
	require.Len(t, h.db.turns, 1, "exactly one conversation record must be persisted even on error")
	assert.Equal(t, store.TurnStatusSystemError, h.db.turns[0].Status)
}
