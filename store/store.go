package store

import "context"

// Store is the facade every component depends on; it delegates to an
// injected Driver and never embeds backend-specific SQL itself, matching
// the teacher's Store/Driver split.
type Store struct {
	driver Driver
}

// New wraps a concrete Driver (sqlite or postgres) in the facade.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// Migrate applies the driver's schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Close releases the underlying driver's resources.
func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateSession(ctx context.Context, v *Session) (*Session, error) {
	return s.driver.CreateSession(ctx, v)
}

func (s *Store) FindSession(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.FindSession(ctx, find)
}

func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	return s.driver.UpdateSession(ctx, update)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before int64, limit int) (int, error) {
	return s.driver.DeleteExpiredSessions(ctx, before, limit)
}

func (s *Store) CreateTurn(ctx context.Context, t *ConversationTurn) (*ConversationTurn, error) {
	return s.driver.CreateTurn(ctx, t)
}

func (s *Store) FindTurns(ctx context.Context, find *FindConversationTurn) ([]*ConversationTurn, error) {
	return s.driver.FindTurns(ctx, find)
}

func (s *Store) DeleteOldTurns(ctx context.Context, before int64, limit int) (int, error) {
	return s.driver.DeleteOldTurns(ctx, before, limit)
}

func (s *Store) UpsertIntentConfig(ctx context.Context, c *IntentConfig) (*IntentConfig, error) {
	return s.driver.UpsertIntentConfig(ctx, c)
}

func (s *Store) FindIntentConfigs(ctx context.Context, activeOnly bool) ([]*IntentConfig, error) {
	return s.driver.FindIntentConfigs(ctx, activeOnly)
}

func (s *Store) UpsertSlotConfig(ctx context.Context, c *SlotConfig) (*SlotConfig, error) {
	return s.driver.UpsertSlotConfig(ctx, c)
}

func (s *Store) FindSlotConfigs(ctx context.Context, intentName string) ([]*SlotConfig, error) {
	return s.driver.FindSlotConfigs(ctx, intentName)
}

func (s *Store) CreateSlotValue(ctx context.Context, v *SlotValue) (*SlotValue, error) {
	return s.driver.CreateSlotValue(ctx, v)
}

func (s *Store) FindSlotValues(ctx context.Context, find *FindSlotValue) ([]*SlotValue, error) {
	return s.driver.FindSlotValues(ctx, find)
}

func (s *Store) CreateAmbiguity(ctx context.Context, a *IntentAmbiguity) (*IntentAmbiguity, error) {
	return s.driver.CreateAmbiguity(ctx, a)
}

func (s *Store) FindAmbiguities(ctx context.Context, find *FindIntentAmbiguity) ([]*IntentAmbiguity, error) {
	return s.driver.FindAmbiguities(ctx, find)
}

func (s *Store) ResolveAmbiguity(ctx context.Context, id int64, userChoice, resolvedIntent string, method ResolutionMethod, resolvedAt int64) (*IntentAmbiguity, error) {
	return s.driver.ResolveAmbiguity(ctx, id, userChoice, resolvedIntent, method, resolvedAt)
}

func (s *Store) IncrementAmbiguityRetry(ctx context.Context, id int64) (*IntentAmbiguity, error) {
	return s.driver.IncrementAmbiguityRetry(ctx, id)
}

func (s *Store) DeleteOldAmbiguities(ctx context.Context, before int64, limit int) (int, error) {
	return s.driver.DeleteOldAmbiguities(ctx, before, limit)
}

func (s *Store) CreateTransfer(ctx context.Context, t *IntentTransfer) (*IntentTransfer, error) {
	return s.driver.CreateTransfer(ctx, t)
}

func (s *Store) FindTransfers(ctx context.Context, find *FindIntentTransfer) ([]*IntentTransfer, error) {
	return s.driver.FindTransfers(ctx, find)
}

func (s *Store) ResumeTransfer(ctx context.Context, id int64, resumedAt int64) (*IntentTransfer, error) {
	return s.driver.ResumeTransfer(ctx, id, resumedAt)
}

func (s *Store) DeleteOldTransfers(ctx context.Context, before int64, limit int) (int, error) {
	return s.driver.DeleteOldTransfers(ctx, before, limit)
}

func (s *Store) UpsertUserContext(ctx context.Context, c *UserContext) (*UserContext, error) {
	return s.driver.UpsertUserContext(ctx, c)
}

func (s *Store) FindUserContexts(ctx context.Context, find *FindUserContext) ([]*UserContext, error) {
	return s.driver.FindUserContexts(ctx, find)
}

func (s *Store) DeleteExpiredUserContexts(ctx context.Context, before int64, limit int) (int, error) {
	return s.driver.DeleteExpiredUserContexts(ctx, before, limit)
}

func (s *Store) CreateConfirmation(ctx context.Context, c *ConfirmationRequest) (*ConfirmationRequest, error) {
	return s.driver.CreateConfirmation(ctx, c)
}

func (s *Store) FindConfirmations(ctx context.Context, find *FindConfirmationRequest) ([]*ConfirmationRequest, error) {
	return s.driver.FindConfirmations(ctx, find)
}

func (s *Store) ResolveConfirmation(ctx context.Context, requestID string, resolvedAt int64) (*ConfirmationRequest, error) {
	return s.driver.ResolveConfirmation(ctx, requestID, resolvedAt)
}

func (s *Store) IncrementConfirmationRetry(ctx context.Context, requestID string) (*ConfirmationRequest, error) {
	return s.driver.IncrementConfirmationRetry(ctx, requestID)
}

func (s *Store) DeleteExpiredConfirmations(ctx context.Context, before int64, limit int) (int, error) {
	return s.driver.DeleteExpiredConfirmations(ctx, before, limit)
}

func (s *Store) FindOrCreateUser(ctx context.Context, id int32) (*User, error) {
	return s.driver.FindOrCreateUser(ctx, id)
}

func (s *Store) UpdateUserPreferences(ctx context.Context, id int32, prefs map[string]string) (*User, error) {
	return s.driver.UpdateUserPreferences(ctx, id, prefs)
}
