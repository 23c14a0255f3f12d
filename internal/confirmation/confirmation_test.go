package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/internal/confidence"
	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/store"
)

type fakeDriver struct {
	store.Driver
	confirmations []*store.ConfirmationRequest
}

func (f *fakeDriver) CreateConfirmation(ctx context.Context, c *store.ConfirmationRequest) (*store.ConfirmationRequest, error) {
	cp := *c
	f.confirmations = append(f.confirmations, &cp)
	return &cp, nil
}

func (f *fakeDriver) ResolveConfirmation(ctx context.Context, requestID string, resolvedAt int64) (*store.ConfirmationRequest, error) {
	for _, c := range f.confirmations {
		if c.RequestID == requestID {
			c.ResolvedAt = &resolvedAt
			return c, nil
		}
	}
	return nil, assertErr("not found")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestManager(t *testing.T) (*Manager, *fakeDriver) {
	t.Helper()
	reg, err := registry.New(nil)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterIntent(context.Background(), &store.IntentConfig{
		IntentName: "cancel_order", IsActive: true, ConfirmationTemplate: "Cancel order {order_id}?",
	}))

	conf := confidence.NewManager(reg, confidence.DefaultBands())
	fd := &fakeDriver{}
	return NewManager(store.New(fd), reg, conf, time.Minute, PolicyFlags{}), fd
}

func TestClassifyReply(t *testing.T) {
	assert.Equal(t, ReplyConfirm, ClassifyReply("是的，确认"))
	assert.Equal(t, ReplyModify, ClassifyReply("不对，重新来"))
	assert.Equal(t, ReplyCancel, ClassifyReply("算了，取消吧"))
	assert.Equal(t, ReplyConfirm, ClassifyReply("yes please"))
	assert.Equal(t, ReplyUnknown, ClassifyReply("what time is it"))
}

func TestManager_RiskMonetaryAlwaysHigh(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, store.RiskHigh, m.Risk(ActionMonetary, 0.99, store.UserTypeExpert))
}

func TestManager_RiskWriteLowConfidence(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, store.RiskHigh, m.Risk(ActionWrite, 0.3, store.UserTypeExpert))
}

func TestManager_RiskReadIsLow(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, store.RiskLow, m.Risk(ActionRead, 0.9, store.UserTypeExpert))
}

func TestManager_StrategyExplicitForHighRisk(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, store.ConfirmationExplicit, m.Strategy(ActionWrite, store.RiskHigh, 0.3))
}

func TestManager_StrategyImplicitForLowRiskHighConfidence(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, store.ConfirmationImplicit, m.Strategy(ActionRead, store.RiskLow, 0.95))
}

func TestManager_RequestRendersTemplateAndPersists(t *testing.T) {
	m, fd := newTestManager(t)
	req, prompt, err := m.Request(context.Background(), "sess-1", "cancel_order", ActionWrite, 0.3, store.UserTypeNovice, map[string]string{"order_id": "42"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Cancel order 42?", prompt)
	assert.Equal(t, store.ConfirmationExplicit, req.Strategy)
	require.Len(t, fd.confirmations, 1)
}

func TestManager_ImplicitRequestAutoResolves(t *testing.T) {
	m, _ := newTestManager(t)
	req, _, err := m.Request(context.Background(), "sess-1", "cancel_order", ActionRead, 0.95, store.UserTypeExpert, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ConfirmationImplicit, req.Strategy)
	assert.NotNil(t, req.ResolvedAt)
}

func TestIsExpired(t *testing.T) {
	req := &store.ConfirmationRequest{ExpiresAt: time.Now().Add(-time.Minute).Unix()}
	assert.True(t, IsExpired(req))

	resolvedAt := time.Now().Unix()
	req.ResolvedAt = &resolvedAt
	assert.False(t, IsExpired(req))
}
