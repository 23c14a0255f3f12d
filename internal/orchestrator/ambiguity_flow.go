package orchestrator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/store"
)

// ErrNoPendingAmbiguity is returned by Disambiguate when the referenced
// conversation turn has no open ambiguity row (spec.md §6: 404 if none
// pending).
var ErrNoPendingAmbiguity = errors.New("no pending ambiguity for conversation")

// Disambiguate implements the standalone POST /chat/disambiguate endpoint
// (spec.md §6): it looks up the open ambiguity for conversationTurnID,
// recovers the owning session and user, and replays userChoice through the
// same HandleTurn pending-ambiguity branch (route() rule 1) a same-session
// reply would take.
func (o *Orchestrator) Disambiguate(ctx context.Context, conversationTurnID int64, userChoice string) (*TurnResult, error) {
	unresolved := false
	rows, err := o.db.FindAmbiguities(ctx, &store.FindIntentAmbiguity{ConversationTurnID: &conversationTurnID, Resolved: &unresolved})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up ambiguity")
	}
	if len(rows) == 0 {
		return nil, ErrNoPendingAmbiguity
	}
	amb := rows[0]

	sessions, err := o.db.FindSession(ctx, &store.FindSession{ID: &amb.SessionID})
	if err != nil || len(sessions) != 1 {
		return nil, errors.Wrap(err, "failed to look up session owning ambiguity")
	}

	return o.HandleTurn(ctx, sessions[0].UserID, amb.SessionID, userChoice, nil)
}

// findPendingAmbiguity returns the most recent unresolved ambiguity for
// sessionID, if any.
func findPendingAmbiguity(ctx context.Context, db *store.Store, sessionID string) (*store.IntentAmbiguity, bool, error) {
	unresolved := false
	rows, err := db.FindAmbiguities(ctx, &store.FindIntentAmbiguity{SessionID: &sessionID, Resolved: &unresolved})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	newest := rows[0]
	for _, r := range rows[1:] {
		if r.ID > newest.ID {
			newest = r
		}
	}
	return newest, true, nil
}

func resolveAmbiguity(ctx context.Context, db *store.Store, amb *store.IntentAmbiguity, userChoice, resolvedIntent string, method store.ResolutionMethod, nowUnix int64) error {
	_, err := db.ResolveAmbiguity(ctx, amb.ID, userChoice, resolvedIntent, method, nowUnix)
	return err
}

func candidateConfidence(candidates []store.CandidateIntent, name string) float32 {
	for _, c := range candidates {
		if c.Name == name {
			return c.Confidence
		}
	}
	return 0
}
