// Package postgres implements store.Driver on top of lib/pq, for
// multi-instance deployments that need a shared, concurrent-writer backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/profile"
	"github.com/hrygo/dialogued/store"
)

type DB struct {
	db *sql.DB
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(time.Hour)
	return &DB{db: pgDB}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the $n positional placeholder pq expects at argument
// position n (1-indexed).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns a comma-joined run of n placeholders starting at $1,
// for VALUES(...) clauses.
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

const schema = `
CREATE TABLE IF NOT EXISTS app_user (
	id SERIAL PRIMARY KEY,
	user_type TEXT NOT NULL DEFAULT 'novice',
	preferences JSONB NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	state TEXT NOT NULL,
	context JSONB NOT NULL DEFAULT '{}',
	expires_at BIGINT,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_user ON session(user_id);
CREATE INDEX IF NOT EXISTS idx_session_state ON session(state);

CREATE TABLE IF NOT EXISTS conversation_turn (
	turn_id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	user_input TEXT NOT NULL,
	recognized_intent TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	system_response TEXT NOT NULL DEFAULT '',
	response_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_session ON conversation_turn(session_id, created_ts);

CREATE TABLE IF NOT EXISTS intent_config (
	intent_name TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	confidence_threshold REAL NOT NULL DEFAULT 0.7,
	priority INTEGER NOT NULL DEFAULT 0,
	examples JSONB NOT NULL DEFAULT '[]',
	fallback_response TEXT NOT NULL DEFAULT '',
	confirmation_template TEXT NOT NULL DEFAULT '',
	success_template TEXT NOT NULL DEFAULT '',
	failure_template TEXT NOT NULL DEFAULT '',
	handler_type TEXT NOT NULL DEFAULT '',
	handler_config JSONB NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS slot_config (
	intent_name TEXT NOT NULL,
	slot_name TEXT NOT NULL,
	slot_type TEXT NOT NULL,
	is_required BOOLEAN NOT NULL DEFAULT FALSE,
	prompt_template TEXT NOT NULL DEFAULT '',
	default_value TEXT NOT NULL DEFAULT '',
	validation_rules JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (intent_name, slot_name)
);

CREATE TABLE IF NOT EXISTS slot_value (
	id BIGSERIAL PRIMARY KEY,
	conversation_turn_id BIGINT NOT NULL,
	session_id TEXT NOT NULL,
	intent_name TEXT NOT NULL,
	slot_name TEXT NOT NULL,
	original_text TEXT NOT NULL DEFAULT '',
	extracted_value TEXT NOT NULL DEFAULT '',
	normalized_value TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	extraction_method TEXT NOT NULL,
	validation_status TEXT NOT NULL,
	validation_error TEXT NOT NULL DEFAULT '',
	is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slot_value_session ON slot_value(session_id, intent_name, slot_name, created_ts);

CREATE TABLE IF NOT EXISTS intent_ambiguity (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	conversation_turn_id BIGINT NOT NULL,
	user_input TEXT NOT NULL,
	candidates JSONB NOT NULL DEFAULT '[]',
	question TEXT NOT NULL DEFAULT '',
	options JSONB NOT NULL DEFAULT '[]',
	retry_count INTEGER NOT NULL DEFAULT 0,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	user_choice TEXT NOT NULL DEFAULT '',
	resolved_intent TEXT NOT NULL DEFAULT '',
	resolution_method TEXT NOT NULL DEFAULT '',
	resolved_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_ambiguity_session ON intent_ambiguity(session_id, resolved);

CREATE TABLE IF NOT EXISTS intent_transfer (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	from_intent TEXT NOT NULL DEFAULT '',
	to_intent TEXT NOT NULL,
	transfer_type TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	saved_context JSONB NOT NULL DEFAULT '{}',
	resumed_at BIGINT,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_session ON intent_transfer(session_id, transfer_type, resumed_at);

CREATE TABLE IF NOT EXISTS user_context (
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT 'global',
	priority INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at BIGINT,
	PRIMARY KEY (user_id, type, key)
);

CREATE TABLE IF NOT EXISTS confirmation_request (
	request_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	intent TEXT NOT NULL,
	strategy TEXT NOT NULL,
	risk TEXT NOT NULL,
	triggers JSONB NOT NULL DEFAULT '[]',
	proposed_slots JSONB NOT NULL DEFAULT '{}',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	resolved_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_confirmation_session ON confirmation_request(session_id, resolved_at);
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply postgres schema")
	}
	return nil
}

func nowTs() int64 {
	return time.Now().Unix()
}
