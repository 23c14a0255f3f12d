package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/store"
)

type fakeDriver struct {
	store.Driver
	sessions  []*store.Session
	turns     []*store.ConversationTurn
	transfers []*store.IntentTransfer
	nextTurn  int64
}

func (f *fakeDriver) CreateSession(ctx context.Context, s *store.Session) (*store.Session, error) {
	cp := *s
	f.sessions = append(f.sessions, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindSession(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
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

func (f *fakeDriver) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
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
	return nil, assertErr("session not found")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func (f *fakeDriver) CreateTurn(ctx context.Context, t *store.ConversationTurn) (*store.ConversationTurn, error) {
	f.nextTurn++
	cp := *t
	cp.TurnID = f.nextTurn
	f.turns = append(f.turns, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindTurns(ctx context.Context, find *store.FindConversationTurn) ([]*store.ConversationTurn, error) {
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

func (f *fakeDriver) CreateTransfer(ctx context.Context, t *store.IntentTransfer) (*store.IntentTransfer, error) {
	cp := *t
	f.transfers = append(f.transfers, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindTransfers(ctx context.Context, find *store.FindIntentTransfer) ([]*store.IntentTransfer, error) {
	var out []*store.IntentTransfer
	for _, tr := range f.transfers {
		if find.SessionID != nil && tr.SessionID != *find.SessionID {
			continue
		}
		if find.TransferType != nil && tr.TransferType != *find.TransferType {
			continue
		}
		if find.OnlyUnresumed && tr.ResumedAt != nil {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (f *fakeDriver) ResumeTransfer(ctx context.Context, id int64, resumedAt int64) (*store.IntentTransfer, error) {
	for _, tr := range f.transfers {
		if tr.ID == id {
			tr.ResumedAt = &resumedAt
			return tr, nil
		}
	}
	return nil, assertErr("transfer not found")
}

func newTestManager() (*Manager, *fakeDriver) {
	fd := &fakeDriver{}
	return NewManager(store.New(fd), 10, time.Hour), fd
}

func TestManager_ResolveCreatesNewSession(t *testing.T) {
	m, _ := newTestManager()
	s, err := m.Resolve(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionStateActive, s.State)
	assert.NotEmpty(t, s.ID)
}

func TestManager_ResolvePrefersSuppliedActiveSession(t *testing.T) {
	m, fd := newTestManager()
	fd.sessions = append(fd.sessions, &store.Session{ID: "s1", UserID: 1, State: store.SessionStateActive})
	fd.sessions = append(fd.sessions, &store.Session{ID: "s2", UserID: 1, State: store.SessionStateActive, CreatedTs: 100})

	s, err := m.Resolve(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
}

func TestManager_ResolveFallsBackToMostRecentActive(t *testing.T) {
	m, fd := newTestManager()
	fd.sessions = append(fd.sessions, &store.Session{ID: "s1", UserID: 1, State: store.SessionStateActive, CreatedTs: 50})
	fd.sessions = append(fd.sessions, &store.Session{ID: "s2", UserID: 1, State: store.SessionStateActive, CreatedTs: 100})

	s, err := m.Resolve(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)
}

func TestManager_ResolveIgnoresExpiredSupplied(t *testing.T) {
	m, fd := newTestManager()
	past := time.Now().Add(-time.Hour).Unix()
	fd.sessions = append(fd.sessions, &store.Session{ID: "s1", UserID: 1, State: store.SessionStateActive, ExpiresAt: &past})

	s, err := m.Resolve(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, "s1", s.ID)
}

func TestManager_RecentHistoryFiltersErrorStatuses(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.RecordTurn(ctx, &store.ConversationTurn{SessionID: "sess-1", Status: store.TurnStatusCompleted})
	require.NoError(t, err)
	_, err = m.RecordTurn(ctx, &store.ConversationTurn{SessionID: "sess-1", Status: store.TurnStatusSystemError})
	require.NoError(t, err)

	history, err := m.RecentHistory(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.TurnStatusCompleted, history[0].Status)
}

func TestManager_AuditHistoryIncludesErrors(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.RecordTurn(ctx, &store.ConversationTurn{SessionID: "sess-1", Status: store.TurnStatusSystemError})
	require.NoError(t, err)

	all, err := m.AuditHistory(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestManager_StackOrdersMostRecentFirst(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.PushTransfer(ctx, &store.IntentTransfer{ID: 1, SessionID: "sess-1", TransferType: store.TransferUserRequest, CreatedTs: 10})
	require.NoError(t, err)
	_, err = m.PushTransfer(ctx, &store.IntentTransfer{ID: 2, SessionID: "sess-1", TransferType: store.TransferUserRequest, CreatedTs: 20})
	require.NoError(t, err)

	stack, err := m.Stack(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, stack, 2)
	assert.Equal(t, int64(2), stack[0].ID)
}

func TestManager_ResumeRemovesFromStack(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.PushTransfer(ctx, &store.IntentTransfer{ID: 1, SessionID: "sess-1", TransferType: store.TransferUserRequest, CreatedTs: 10})
	require.NoError(t, err)

	_, err = m.Resume(ctx, 1)
	require.NoError(t, err)

	stack, err := m.Stack(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, stack, 0)
}
