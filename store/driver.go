package store

import "context"

// SessionStore persists Session rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) (*Session, error)
	FindSession(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	DeleteExpiredSessions(ctx context.Context, before int64, limit int) (int, error)
}

// TurnStore persists ConversationTurn rows.
type TurnStore interface {
	CreateTurn(ctx context.Context, t *ConversationTurn) (*ConversationTurn, error)
	FindTurns(ctx context.Context, find *FindConversationTurn) ([]*ConversationTurn, error)
	DeleteOldTurns(ctx context.Context, before int64, limit int) (int, error)
}

// ConfigStore persists IntentConfig and SlotConfig rows.
type ConfigStore interface {
	UpsertIntentConfig(ctx context.Context, c *IntentConfig) (*IntentConfig, error)
	FindIntentConfigs(ctx context.Context, activeOnly bool) ([]*IntentConfig, error)
	UpsertSlotConfig(ctx context.Context, c *SlotConfig) (*SlotConfig, error)
	FindSlotConfigs(ctx context.Context, intentName string) ([]*SlotConfig, error)
}

// SlotValueStore persists SlotValue rows.
type SlotValueStore interface {
	CreateSlotValue(ctx context.Context, v *SlotValue) (*SlotValue, error)
	FindSlotValues(ctx context.Context, find *FindSlotValue) ([]*SlotValue, error)
}

// AmbiguityStore persists IntentAmbiguity rows.
type AmbiguityStore interface {
	CreateAmbiguity(ctx context.Context, a *IntentAmbiguity) (*IntentAmbiguity, error)
	FindAmbiguities(ctx context.Context, find *FindIntentAmbiguity) ([]*IntentAmbiguity, error)
	ResolveAmbiguity(ctx context.Context, id int64, userChoice, resolvedIntent string, method ResolutionMethod, resolvedAt int64) (*IntentAmbiguity, error)
	IncrementAmbiguityRetry(ctx context.Context, id int64) (*IntentAmbiguity, error)
	DeleteOldAmbiguities(ctx context.Context, before int64, limit int) (int, error)
}

// TransferStore persists IntentTransfer rows.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t *IntentTransfer) (*IntentTransfer, error)
	FindTransfers(ctx context.Context, find *FindIntentTransfer) ([]*IntentTransfer, error)
	ResumeTransfer(ctx context.Context, id int64, resumedAt int64) (*IntentTransfer, error)
	DeleteOldTransfers(ctx context.Context, before int64, limit int) (int, error)
}

// UserContextStore persists UserContext rows.
type UserContextStore interface {
	UpsertUserContext(ctx context.Context, c *UserContext) (*UserContext, error)
	FindUserContexts(ctx context.Context, find *FindUserContext) ([]*UserContext, error)
	DeleteExpiredUserContexts(ctx context.Context, before int64, limit int) (int, error)
}

// ConfirmationStore persists ConfirmationRequest rows.
type ConfirmationStore interface {
	CreateConfirmation(ctx context.Context, c *ConfirmationRequest) (*ConfirmationRequest, error)
	FindConfirmations(ctx context.Context, find *FindConfirmationRequest) ([]*ConfirmationRequest, error)
	ResolveConfirmation(ctx context.Context, requestID string, resolvedAt int64) (*ConfirmationRequest, error)
	IncrementConfirmationRetry(ctx context.Context, requestID string) (*ConfirmationRequest, error)
	DeleteExpiredConfirmations(ctx context.Context, before int64, limit int) (int, error)
}

// UserStore persists User rows.
type UserStore interface {
	FindOrCreateUser(ctx context.Context, id int32) (*User, error)
	UpdateUserPreferences(ctx context.Context, id int32, prefs map[string]string) (*User, error)
}

// Driver aggregates every entity-scoped store segregated interface into the
// single contract a concrete backend (sqlite, postgres) must satisfy.
// Segregating by entity, rather than exposing one monolithic interface,
// mirrors the routing package's split between IntentClassifier, ModelSelector
// and FeedbackService: callers depend only on the slice they use.
type Driver interface {
	SessionStore
	TurnStore
	ConfigStore
	SlotValueStore
	AmbiguityStore
	TransferStore
	UserContextStore
	ConfirmationStore
	UserStore

	Migrate(ctx context.Context) error
	Close() error
}
