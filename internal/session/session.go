// Package session implements session lifecycle, bounded conversation
// history, and the intent stack (C5): which session a turn belongs to,
// what was said recently, and which interrupted intents are waiting to be
// resumed.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/cache"
	"github.com/hrygo/dialogued/store"
)

// Manager resolves sessions, records turns, and answers history/intent-stack
// queries. Conversation history is read through a cache that is
// invalidated on every new turn; the intent stack is never stored as a
// stack structure, it is a query ("every TransferUserRequest row for this
// session with ResumedAt == nil, most recent first") over IntentTransfer
// rows, so resuming or abandoning a branch never requires mutating a list.
type Manager struct {
	db            *store.Store
	historyCache  *cache.LRUCache[string, []*store.ConversationTurn]
	historyWindow int
	sessionTTL    time.Duration
}

// NewManager builds a Manager. historyWindow bounds how many recent turns
// RecentHistory returns; sessionTTL is the default session expiry horizon
// applied to newly created sessions.
func NewManager(db *store.Store, historyWindow int, sessionTTL time.Duration) *Manager {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Manager{
		db:            db,
		historyCache:  cache.NewLRUCache[string, []*store.ConversationTurn](4096, time.Minute),
		historyWindow: historyWindow,
		sessionTTL:    sessionTTL,
	}
}

// Resolve implements spec.md §4.1's session preference order: the supplied
// session if it is active and owned by userID, else the user's most recently
// updated active session (ties go to the later CreatedTs), else a freshly
// created one.
func (m *Manager) Resolve(ctx context.Context, userID int32, suppliedSessionID string) (*store.Session, error) {
	active := store.SessionStateActive

	if suppliedSessionID != "" {
		found, err := m.db.FindSession(ctx, &store.FindSession{ID: &suppliedSessionID})
		if err != nil {
			return nil, errors.Wrap(err, "failed to look up supplied session")
		}
		if len(found) == 1 && found[0].UserID == userID && found[0].State == store.SessionStateActive && !expired(found[0]) {
			return found[0], nil
		}
	}

	existing, err := m.db.FindSession(ctx, &store.FindSession{UserID: &userID, State: &active})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up active sessions")
	}
	if len(existing) > 0 {
		newest := existing[0]
		for _, s := range existing[1:] {
			if s.UpdatedTs > newest.UpdatedTs || (s.UpdatedTs == newest.UpdatedTs && s.CreatedTs > newest.CreatedTs) {
				newest = s
			}
		}
		if !expired(newest) {
			return newest, nil
		}
	}

	now := time.Now()
	var expiresAt *int64
	if m.sessionTTL > 0 {
		e := now.Add(m.sessionTTL).Unix()
		expiresAt = &e
	}
	created, err := m.db.CreateSession(ctx, &store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     store.SessionStateActive,
		Context:   map[string]any{},
		ExpiresAt: expiresAt,
		CreatedTs: now.Unix(),
		UpdatedTs: now.Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return created, nil
}

func expired(s *store.Session) bool {
	return s.ExpiresAt != nil && *s.ExpiresAt <= time.Now().Unix()
}

// UpdateContext merges fields into the session's context map and persists
// the update.
func (m *Manager) UpdateContext(ctx context.Context, sessionID string, fields map[string]any) (*store.Session, error) {
	found, err := m.db.FindSession(ctx, &store.FindSession{ID: &sessionID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session for context update")
	}
	if len(found) != 1 {
		return nil, errors.Errorf("session %s not found", sessionID)
	}

	merged := make(map[string]any, len(found[0].Context)+len(fields))
	for k, v := range found[0].Context {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return m.db.UpdateSession(ctx, &store.UpdateSession{ID: sessionID, Context: merged})
}

// Complete marks a session completed, e.g. after the handled intent reaches
// a terminal outcome and the caller does not want it reused for unrelated
// follow-ups.
func (m *Manager) Complete(ctx context.Context, sessionID string) error {
	state := store.SessionStateCompleted
	_, err := m.db.UpdateSession(ctx, &store.UpdateSession{ID: sessionID, State: &state})
	return errors.Wrap(err, "failed to complete session")
}

// RecordTurn persists a completed turn and invalidates the session's cached
// history so the next read reflects it.
func (m *Manager) RecordTurn(ctx context.Context, turn *store.ConversationTurn) (*store.ConversationTurn, error) {
	created, err := m.db.CreateTurn(ctx, turn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to record turn")
	}
	m.historyCache.Remove(turn.SessionID)
	return created, nil
}

// RecentHistory returns up to historyWindow recent turns for sessionID,
// excluding error statuses (spec.md P5), serving from cache when warm.
func (m *Manager) RecentHistory(ctx context.Context, sessionID string) ([]*store.ConversationTurn, error) {
	if cached, ok := m.historyCache.Get(sessionID); ok {
		return cached, nil
	}

	exclude := make([]store.TurnStatus, 0, len(store.ErrorStatuses))
	for status := range store.ErrorStatuses {
		exclude = append(exclude, status)
	}

	turns, err := m.db.FindTurns(ctx, &store.FindConversationTurn{
		SessionID:     sessionID,
		ExcludeStatus: exclude,
		Limit:         m.historyWindow,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session history")
	}

	m.historyCache.SetWithDefaultTTL(sessionID, turns)
	return turns, nil
}

// AuditHistory returns every turn for sessionID, including error statuses,
// bypassing the cache entirely. It exists for an admin/audit surface, not
// the live turn path, which must only ever see RecentHistory's filtered
// view (resolved Open Question: NLU context recall never reads raw rows).
func (m *Manager) AuditHistory(ctx context.Context, sessionID string) ([]*store.ConversationTurn, error) {
	turns, err := m.db.FindTurns(ctx, &store.FindConversationTurn{
		SessionID:      sessionID,
		IncludeAllRows: true,
	})
	return turns, errors.Wrap(err, "failed to load audit history")
}

// PushTransfer records an intent transfer. An interruption is a
// TransferUserRequest row with ResumedAt left nil; everything else
// (redirect, fallback, escalation, completion) is informational history.
func (m *Manager) PushTransfer(ctx context.Context, t *store.IntentTransfer) (*store.IntentTransfer, error) {
	created, err := m.db.CreateTransfer(ctx, t)
	return created, errors.Wrap(err, "failed to record intent transfer")
}

// Stack returns every unresumed user-requested transfer for sessionID, most
// recent first: the "top" of the stack is index 0. This is computed fresh
// from storage on every call rather than maintained as mutable state.
func (m *Manager) Stack(ctx context.Context, sessionID string) ([]*store.IntentTransfer, error) {
	userRequest := store.TransferUserRequest
	transfers, err := m.db.FindTransfers(ctx, &store.FindIntentTransfer{
		SessionID:     &sessionID,
		TransferType:  &userRequest,
		OnlyUnresumed: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load intent stack")
	}

	sorted := make([]*store.IntentTransfer, len(transfers))
	copy(sorted, transfers)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].CreatedTs > sorted[j-1].CreatedTs; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted, nil
}

// Resume marks transfer id as resumed.
func (m *Manager) Resume(ctx context.Context, id int64) (*store.IntentTransfer, error) {
	resumed, err := m.db.ResumeTransfer(ctx, id, time.Now().Unix())
	return resumed, errors.Wrap(err, "failed to resume intent transfer")
}
