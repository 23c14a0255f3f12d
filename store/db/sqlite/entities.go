package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/store"
)

func marshal(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshal[T any](s string, out *T) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

// --- users ---

func (d *DB) FindOrCreateUser(ctx context.Context, id int32) (*store.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, user_type, preferences, created_ts, updated_ts FROM app_user WHERE id = ?`, id)
	u := &store.User{}
	var prefs string
	err := row.Scan(&u.ID, &u.UserType, &prefs, &u.CreatedTs, &u.UpdatedTs)
	if err == nil {
		u.Preferences = map[string]string{}
		unmarshal(prefs, &u.Preferences)
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to query app_user")
	}

	now := nowTs()
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO app_user (id, user_type, preferences, created_ts, updated_ts) VALUES (?, ?, ?, ?, ?)`,
		id, store.UserTypeNovice, "{}", now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create app_user")
	}
	return &store.User{ID: id, UserType: store.UserTypeNovice, Preferences: map[string]string{}, CreatedTs: now, UpdatedTs: now}, nil
}

func (d *DB) UpdateUserPreferences(ctx context.Context, id int32, prefs map[string]string) (*store.User, error) {
	now := nowTs()
	_, err := d.db.ExecContext(ctx,
		`UPDATE app_user SET preferences = ?, updated_ts = ? WHERE id = ?`, marshal(prefs), now, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update app_user preferences")
	}
	return d.FindOrCreateUser(ctx, id)
}

// --- sessions ---

func (d *DB) CreateSession(ctx context.Context, s *store.Session) (*store.Session, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO session (id, user_id, state, context, expires_at, created_ts, updated_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.State, marshal(s.Context), s.ExpiresAt, s.CreatedTs, s.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return s, nil
}

func (d *DB) FindSession(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := "1 = 1", []any{}
	if find.ID != nil {
		where += " AND id = ?"
		args = append(args, *find.ID)
	}
	if find.UserID != nil {
		where += " AND user_id = ?"
		args = append(args, *find.UserID)
	}
	if find.State != nil {
		where += " AND state = ?"
		args = append(args, *find.State)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, state, context, expires_at, created_ts, updated_ts FROM session WHERE `+where+` ORDER BY updated_ts DESC`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		s := &store.Session{}
		var ctxJSON string
		if err := rows.Scan(&s.ID, &s.UserID, &s.State, &ctxJSON, &s.ExpiresAt, &s.CreatedTs, &s.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		s.Context = map[string]any{}
		unmarshal(ctxJSON, &s.Context)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := "updated_ts = ?", []any{nowTs()}
	if update.Context != nil {
		set += ", context = ?"
		args = append(args, marshal(update.Context))
	}
	if update.State != nil {
		set += ", state = ?"
		args = append(args, *update.State)
	}
	if update.ExpiresAt != nil {
		set += ", expires_at = ?"
		args = append(args, *update.ExpiresAt)
	}
	args = append(args, update.ID)

	if _, err := d.db.ExecContext(ctx, `UPDATE session SET `+set+` WHERE id = ?`, args...); err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}
	list, err := d.FindSession(ctx, &store.FindSession{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("session not found after update")
	}
	return list[0], nil
}

func (d *DB) DeleteExpiredSessions(ctx context.Context, before int64, limit int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM session WHERE id IN (SELECT id FROM session WHERE expires_at IS NOT NULL AND expires_at < ? LIMIT ?)`,
		before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- conversation turns ---

func (d *DB) CreateTurn(ctx context.Context, t *store.ConversationTurn) (*store.ConversationTurn, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO conversation_turn (session_id, user_id, user_input, recognized_intent, confidence,
		 system_response, response_type, status, processing_time_ms, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.UserID, t.UserInput, t.RecognizedIntent, t.Confidence,
		t.SystemResponse, t.ResponseType, t.Status, t.ProcessingTimeMs, t.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation_turn")
	}
	id, _ := res.LastInsertId()
	t.TurnID = id
	return t, nil
}

func (d *DB) FindTurns(ctx context.Context, find *store.FindConversationTurn) ([]*store.ConversationTurn, error) {
	where, args := "session_id = ?", []any{find.SessionID}
	for _, st := range find.ExcludeStatus {
		where += " AND status != ?"
		args = append(args, st)
	}
	limit := find.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx,
		`SELECT turn_id, session_id, user_id, user_input, recognized_intent, confidence,
		 system_response, response_type, status, processing_time_ms, created_ts
		 FROM conversation_turn WHERE `+where+` ORDER BY created_ts DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation_turns")
	}
	defer rows.Close()

	var out []*store.ConversationTurn
	for rows.Next() {
		t := &store.ConversationTurn{}
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.UserID, &t.UserInput, &t.RecognizedIntent, &t.Confidence,
			&t.SystemResponse, &t.ResponseType, &t.Status, &t.ProcessingTimeMs, &t.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation_turn")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) DeleteOldTurns(ctx context.Context, before int64, limit int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM conversation_turn WHERE turn_id IN (SELECT turn_id FROM conversation_turn WHERE created_ts < ? LIMIT ?)`,
		before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old conversation_turns")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- intent / slot config ---

func (d *DB) UpsertIntentConfig(ctx context.Context, c *store.IntentConfig) (*store.IntentConfig, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO intent_config (intent_name, display_name, description, category, confidence_threshold,
		 priority, examples, fallback_response, confirmation_template, success_template, failure_template,
		 handler_type, handler_config, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(intent_name) DO UPDATE SET display_name=excluded.display_name, description=excluded.description,
		 category=excluded.category, confidence_threshold=excluded.confidence_threshold, priority=excluded.priority,
		 examples=excluded.examples, fallback_response=excluded.fallback_response,
		 confirmation_template=excluded.confirmation_template, success_template=excluded.success_template,
		 failure_template=excluded.failure_template, handler_type=excluded.handler_type,
		 handler_config=excluded.handler_config, is_active=excluded.is_active`,
		c.IntentName, c.DisplayName, c.Description, c.Category, c.ConfidenceThreshold, c.Priority,
		marshal(c.Examples), c.FallbackResponse, c.ConfirmationTemplate, c.SuccessTemplate, c.FailureTemplate,
		string(c.HandlerType), marshal(c.HandlerConfig), c.IsActive)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert intent_config")
	}
	return c, nil
}

func (d *DB) FindIntentConfigs(ctx context.Context, activeOnly bool) ([]*store.IntentConfig, error) {
	query := `SELECT intent_name, display_name, description, category, confidence_threshold, priority, examples,
		 fallback_response, confirmation_template, success_template, failure_template, handler_type,
		 handler_config, is_active FROM intent_config`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority DESC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list intent_configs")
	}
	defer rows.Close()

	var out []*store.IntentConfig
	for rows.Next() {
		c := &store.IntentConfig{}
		var examples, handlerType, handlerConfig string
		if err := rows.Scan(&c.IntentName, &c.DisplayName, &c.Description, &c.Category, &c.ConfidenceThreshold,
			&c.Priority, &examples, &c.FallbackResponse, &c.ConfirmationTemplate, &c.SuccessTemplate,
			&c.FailureTemplate, &handlerType, &handlerConfig, &c.IsActive); err != nil {
			return nil, errors.Wrap(err, "failed to scan intent_config")
		}
		unmarshal(examples, &c.Examples)
		c.HandlerType = store.HandlerType(handlerType)
		c.HandlerConfig = map[string]any{}
		unmarshal(handlerConfig, &c.HandlerConfig)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) UpsertSlotConfig(ctx context.Context, c *store.SlotConfig) (*store.SlotConfig, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO slot_config (intent_name, slot_name, slot_type, is_required, prompt_template, default_value, validation_rules)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(intent_name, slot_name) DO UPDATE SET slot_type=excluded.slot_type, is_required=excluded.is_required,
		 prompt_template=excluded.prompt_template, default_value=excluded.default_value, validation_rules=excluded.validation_rules`,
		c.IntentName, c.SlotName, c.SlotType, c.IsRequired, c.PromptTemplate, c.DefaultValue, marshal(c.ValidationRules))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert slot_config")
	}
	return c, nil
}

func (d *DB) FindSlotConfigs(ctx context.Context, intentName string) ([]*store.SlotConfig, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT intent_name, slot_name, slot_type, is_required, prompt_template, default_value, validation_rules
		 FROM slot_config WHERE intent_name = ?`, intentName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list slot_configs")
	}
	defer rows.Close()

	var out []*store.SlotConfig
	for rows.Next() {
		c := &store.SlotConfig{}
		var rules string
		if err := rows.Scan(&c.IntentName, &c.SlotName, &c.SlotType, &c.IsRequired, &c.PromptTemplate, &c.DefaultValue, &rules); err != nil {
			return nil, errors.Wrap(err, "failed to scan slot_config")
		}
		c.ValidationRules = map[string]any{}
		unmarshal(rules, &c.ValidationRules)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- slot values ---

func (d *DB) CreateSlotValue(ctx context.Context, v *store.SlotValue) (*store.SlotValue, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO slot_value (conversation_turn_id, session_id, intent_name, slot_name, original_text,
		 extracted_value, normalized_value, confidence, extraction_method, validation_status, validation_error,
		 is_confirmed, created_ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ConversationTurnID, v.SessionID, v.IntentName, v.SlotName, v.OriginalText, v.ExtractedValue,
		v.NormalizedValue, v.Confidence, v.ExtractionMethod, v.ValidationStatus, v.ValidationError,
		v.IsConfirmed, v.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create slot_value")
	}
	id, _ := res.LastInsertId()
	_ = id
	return v, nil
}

func (d *DB) FindSlotValues(ctx context.Context, find *store.FindSlotValue) ([]*store.SlotValue, error) {
	where, args := "session_id = ?", []any{find.SessionID}
	if find.IntentName != "" {
		where += " AND intent_name = ?"
		args = append(args, find.IntentName)
	}
	if find.SlotName != "" {
		where += " AND slot_name = ?"
		args = append(args, find.SlotName)
	}
	order := " ORDER BY created_ts ASC"
	if find.Latest {
		order = " ORDER BY created_ts DESC"
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, conversation_turn_id, session_id, intent_name, slot_name, original_text, extracted_value,
		 normalized_value, confidence, extraction_method, validation_status, validation_error, is_confirmed, created_ts
		 FROM slot_value WHERE `+where+order, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list slot_values")
	}
	defer rows.Close()

	var out []*store.SlotValue
	for rows.Next() {
		v := &store.SlotValue{}
		var id int64
		if err := rows.Scan(&id, &v.ConversationTurnID, &v.SessionID, &v.IntentName, &v.SlotName, &v.OriginalText,
			&v.ExtractedValue, &v.NormalizedValue, &v.Confidence, &v.ExtractionMethod, &v.ValidationStatus,
			&v.ValidationError, &v.IsConfirmed, &v.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan slot_value")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- ambiguities ---

func (d *DB) CreateAmbiguity(ctx context.Context, a *store.IntentAmbiguity) (*store.IntentAmbiguity, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO intent_ambiguity (session_id, conversation_turn_id, user_input, candidates, question, options,
		 retry_count, resolved) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.ConversationTurnID, a.UserInput, marshal(a.Candidates), a.Question, marshal(a.Options),
		a.RetryCount, a.Resolved)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create intent_ambiguity")
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return a, nil
}

func (d *DB) FindAmbiguities(ctx context.Context, find *store.FindIntentAmbiguity) ([]*store.IntentAmbiguity, error) {
	where, args := "1 = 1", []any{}
	if find.SessionID != nil {
		where += " AND session_id = ?"
		args = append(args, *find.SessionID)
	}
	if find.ConversationTurnID != nil {
		where += " AND conversation_turn_id = ?"
		args = append(args, *find.ConversationTurnID)
	}
	if find.Resolved != nil {
		where += " AND resolved = ?"
		args = append(args, *find.Resolved)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, session_id, conversation_turn_id, user_input, candidates, question, options, retry_count,
		 resolved, user_choice, resolved_intent, resolution_method, resolved_at
		 FROM intent_ambiguity WHERE `+where+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list intent_ambiguities")
	}
	defer rows.Close()

	var out []*store.IntentAmbiguity
	for rows.Next() {
		a := &store.IntentAmbiguity{}
		var candidates, options string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ConversationTurnID, &a.UserInput, &candidates, &a.Question,
			&options, &a.RetryCount, &a.Resolved, &a.UserChoice, &a.ResolvedIntent, &a.ResolutionMethod,
			&a.ResolvedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan intent_ambiguity")
		}
		unmarshal(candidates, &a.Candidates)
		unmarshal(options, &a.Options)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *DB) ResolveAmbiguity(ctx context.Context, id int64, userChoice, resolvedIntent string, method store.ResolutionMethod, resolvedAt int64) (*store.IntentAmbiguity, error) {
	_, err := d.db.ExecContext(ctx,
		`UPDATE intent_ambiguity SET resolved = 1, user_choice = ?, resolved_intent = ?, resolution_method = ?, resolved_at = ?
		 WHERE id = ?`, userChoice, resolvedIntent, method, resolvedAt, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve intent_ambiguity")
	}
	list, err := d.FindAmbiguities(ctx, &store.FindIntentAmbiguity{})
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.New("ambiguity not found after resolve")
}

func (d *DB) IncrementAmbiguityRetry(ctx context.Context, id int64) (*store.IntentAmbiguity, error) {
	if _, err := d.db.ExecContext(ctx, `UPDATE intent_ambiguity SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return nil, errors.Wrap(err, "failed to increment ambiguity retry")
	}
	list, err := d.FindAmbiguities(ctx, &store.FindIntentAmbiguity{})
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.New("ambiguity not found after retry increment")
}

func (d *DB) DeleteOldAmbiguities(ctx context.Context, before int64, limit int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM intent_ambiguity WHERE id IN (SELECT id FROM intent_ambiguity WHERE resolved = 1 AND resolved_at < ? LIMIT ?)`,
		before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old ambiguities")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- transfers ---

func (d *DB) CreateTransfer(ctx context.Context, t *store.IntentTransfer) (*store.IntentTransfer, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO intent_transfer (session_id, from_intent, to_intent, transfer_type, reason, confidence,
		 saved_context, created_ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.FromIntent, t.ToIntent, t.TransferType, t.Reason, t.Confidence, marshal(t.SavedContext), t.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create intent_transfer")
	}
	id, _ := res.LastInsertId()
	t.ID = id
	return t, nil
}

func (d *DB) FindTransfers(ctx context.Context, find *store.FindIntentTransfer) ([]*store.IntentTransfer, error) {
	where, args := "1 = 1", []any{}
	if find.SessionID != nil {
		where += " AND session_id = ?"
		args = append(args, *find.SessionID)
	}
	if find.TransferType != nil {
		where += " AND transfer_type = ?"
		args = append(args, *find.TransferType)
	}
	if find.OnlyUnresumed {
		where += " AND resumed_at IS NULL"
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, session_id, from_intent, to_intent, transfer_type, reason, confidence, saved_context,
		 resumed_at, created_ts FROM intent_transfer WHERE `+where+` ORDER BY created_ts DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list intent_transfers")
	}
	defer rows.Close()

	var out []*store.IntentTransfer
	for rows.Next() {
		t := &store.IntentTransfer{}
		var ctxJSON string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.FromIntent, &t.ToIntent, &t.TransferType, &t.Reason,
			&t.Confidence, &ctxJSON, &t.ResumedAt, &t.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan intent_transfer")
		}
		t.SavedContext = map[string]any{}
		unmarshal(ctxJSON, &t.SavedContext)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) ResumeTransfer(ctx context.Context, id int64, resumedAt int64) (*store.IntentTransfer, error) {
	if _, err := d.db.ExecContext(ctx, `UPDATE intent_transfer SET resumed_at = ? WHERE id = ?`, resumedAt, id); err != nil {
		return nil, errors.Wrap(err, "failed to resume intent_transfer")
	}
	list, err := d.FindTransfers(ctx, &store.FindIntentTransfer{})
	if err != nil {
		return nil, err
	}
	for _, t := range list {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errors.New("transfer not found after resume")
}

func (d *DB) DeleteOldTransfers(ctx context.Context, before int64, limit int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM intent_transfer WHERE id IN (SELECT id FROM intent_transfer WHERE created_ts < ? LIMIT ?)`,
		before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old intent_transfers")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- user context ---

func (d *DB) UpsertUserContext(ctx context.Context, c *store.UserContext) (*store.UserContext, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_context (user_id, type, key, value, scope, priority, is_active, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, type, key) DO UPDATE SET value=excluded.value, scope=excluded.scope,
		 priority=excluded.priority, is_active=excluded.is_active, expires_at=excluded.expires_at`,
		c.UserID, c.Type, c.Key, c.Value, c.Scope, c.Priority, c.IsActive, c.ExpiresAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user_context")
	}
	return c, nil
}

func (d *DB) FindUserContexts(ctx context.Context, find *store.FindUserContext) ([]*store.UserContext, error) {
	where, args := "user_id = ?", []any{find.UserID}
	if find.Type != nil {
		where += " AND type = ?"
		args = append(args, *find.Type)
	}
	if find.Key != nil {
		where += " AND key = ?"
		args = append(args, *find.Key)
	}
	if find.ActiveOnly {
		where += " AND is_active = 1"
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, type, key, value, scope, priority, is_active, expires_at FROM user_context WHERE `+where+
			` ORDER BY priority DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user_contexts")
	}
	defer rows.Close()

	var out []*store.UserContext
	for rows.Next() {
		c := &store.UserContext{}
		if err := rows.Scan(&c.UserID, &c.Type, &c.Key, &c.Value, &c.Scope, &c.Priority, &c.IsActive, &c.ExpiresAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan user_context")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) DeleteExpiredUserContexts(ctx context.Context, before int64, limit int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM user_context WHERE rowid IN (SELECT rowid FROM user_context WHERE expires_at IS NOT NULL AND expires_at < ? LIMIT ?)`,
		before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired user_contexts")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- confirmations ---

func (d *DB) CreateConfirmation(ctx context.Context, c *store.ConfirmationRequest) (*store.ConfirmationRequest, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO confirmation_request (request_id, session_id, intent, strategy, risk, triggers, proposed_slots,
		 retry_count, created_ts, expires_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RequestID, c.SessionID, c.Intent, c.Strategy, c.Risk, marshal(c.Triggers), marshal(c.ProposedSlots),
		c.RetryCount, c.CreatedTs, c.ExpiresAt, c.ResolvedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create confirmation_request")
	}
	return c, nil
}

func (d *DB) FindConfirmations(ctx context.Context, find *store.FindConfirmationRequest) ([]*store.ConfirmationRequest, error) {
	where, args := "1 = 1", []any{}
	if find.RequestID != nil {
		where += " AND request_id = ?"
		args = append(args, *find.RequestID)
	}
	if find.SessionID != nil {
		where += " AND session_id = ?"
		args = append(args, *find.SessionID)
	}
	if find.Pending {
		where += " AND resolved_at IS NULL"
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT request_id, session_id, intent, strategy, risk, triggers, proposed_slots, retry_count, created_ts,
		 expires_at, resolved_at FROM confirmation_request WHERE `+where+` ORDER BY created_ts DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list confirmation_requests")
	}
	defer rows.Close()

	var out []*store.ConfirmationRequest
	for rows.Next() {
		c := &store.ConfirmationRequest{}
		var triggers, slots string
		if err := rows.Scan(&c.RequestID, &c.SessionID, &c.Intent, &c.Strategy, &c.Risk, &triggers, &slots,
			&c.RetryCount, &c.CreatedTs, &c.ExpiresAt, &c.ResolvedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan confirmation_request")
		}
		unmarshal(triggers, &c.Triggers)
		c.ProposedSlots = map[string]string{}
		unmarshal(slots, &c.ProposedSlots)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) ResolveConfirmation(ctx context.Context, requestID string, resolvedAt int64) (*store.ConfirmationRequest, error) {
	if _, err := d.db.ExecContext(ctx, `UPDATE confirmation_request SET resolved_at = ? WHERE request_id = ?`, resolvedAt, requestID); err != nil {
		return nil, errors.Wrap(err, "failed to resolve confirmation_request")
	}
	list, err := d.FindConfirmations(ctx, &store.FindConfirmationRequest{RequestID: &requestID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("confirmation not found after resolve")
	}
	return list[0], nil
}

func (d *DB) IncrementConfirmationRetry(ctx context.Context, requestID string) (*store.ConfirmationRequest, error) {
	if _, err := d.db.ExecContext(ctx, `UPDATE confirmation_request SET retry_count = retry_count + 1 WHERE request_id = ?`, requestID); err != nil {
		return nil, errors.Wrap(err, "failed to increment confirmation retry")
	}
	list, err := d.FindConfirmations(ctx, &store.FindConfirmationRequest{RequestID: &requestID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("confirmation not found after retry increment")
	}
	return list[0], nil
}

func (d *DB) DeleteExpiredConfirmations(ctx context.Context, before int64, limit int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM confirmation_request WHERE request_id IN (SELECT request_id FROM confirmation_request WHERE expires_at < ? LIMIT ?)`,
		before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired confirmation_requests")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
