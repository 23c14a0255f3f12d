// Package sqlite implements store.Driver on top of mattn/go-sqlite3,
// suitable for development and single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hrygo/dialogued/internal/profile"
	"github.com/hrygo/dialogued/store"
)

func nowTs() int64 {
	return time.Now().Unix()
}

type DB struct {
	db *sql.DB
}

// NewDB opens a SQLite-backed store.Driver using the profile's DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite3", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// WAL mode avoids the writer-starves-readers problem under the
	// orchestrator's per-session serialized write pattern; busy_timeout
	// absorbs the brief contention between the cleanup scheduler and the
	// hot turn path.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := sqliteDB.Exec(pragma); err != nil {
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name='session')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS app_user (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_type TEXT NOT NULL DEFAULT 'novice',
	preferences TEXT NOT NULL DEFAULT '{}',
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	state TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	expires_at INTEGER,
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_user ON session(user_id);
CREATE INDEX IF NOT EXISTS idx_session_state ON session(state);

CREATE TABLE IF NOT EXISTS conversation_turn (
	turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	user_input TEXT NOT NULL,
	recognized_intent TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	system_response TEXT NOT NULL DEFAULT '',
	response_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_session ON conversation_turn(session_id, created_ts);

CREATE TABLE IF NOT EXISTS intent_config (
	intent_name TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	confidence_threshold REAL NOT NULL DEFAULT 0.7,
	priority INTEGER NOT NULL DEFAULT 0,
	examples TEXT NOT NULL DEFAULT '[]',
	fallback_response TEXT NOT NULL DEFAULT '',
	confirmation_template TEXT NOT NULL DEFAULT '',
	success_template TEXT NOT NULL DEFAULT '',
	failure_template TEXT NOT NULL DEFAULT '',
	handler_type TEXT NOT NULL DEFAULT '',
	handler_config TEXT NOT NULL DEFAULT '{}',
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS slot_config (
	intent_name TEXT NOT NULL,
	slot_name TEXT NOT NULL,
	slot_type TEXT NOT NULL,
	is_required INTEGER NOT NULL DEFAULT 0,
	prompt_template TEXT NOT NULL DEFAULT '',
	default_value TEXT NOT NULL DEFAULT '',
	validation_rules TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (intent_name, slot_name)
);

CREATE TABLE IF NOT EXISTS slot_value (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_turn_id INTEGER NOT NULL,
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
	is_confirmed INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slot_value_session ON slot_value(session_id, intent_name, slot_name, created_ts);

CREATE TABLE IF NOT EXISTS intent_ambiguity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	conversation_turn_id INTEGER NOT NULL,
	user_input TEXT NOT NULL,
	candidates TEXT NOT NULL DEFAULT '[]',
	question TEXT NOT NULL DEFAULT '',
	options TEXT NOT NULL DEFAULT '[]',
	retry_count INTEGER NOT NULL DEFAULT 0,
	resolved INTEGER NOT NULL DEFAULT 0,
	user_choice TEXT NOT NULL DEFAULT '',
	resolved_intent TEXT NOT NULL DEFAULT '',
	resolution_method TEXT NOT NULL DEFAULT '',
	resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_ambiguity_session ON intent_ambiguity(session_id, resolved);

CREATE TABLE IF NOT EXISTS intent_transfer (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	from_intent TEXT NOT NULL DEFAULT '',
	to_intent TEXT NOT NULL,
	transfer_type TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	saved_context TEXT NOT NULL DEFAULT '{}',
	resumed_at INTEGER,
	created_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_session ON intent_transfer(session_id, transfer_type, resumed_at);

CREATE TABLE IF NOT EXISTS user_context (
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT 'global',
	priority INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	expires_at INTEGER,
	PRIMARY KEY (user_id, type, key)
);

CREATE TABLE IF NOT EXISTS confirmation_request (
	request_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	intent TEXT NOT NULL,
	strategy TEXT NOT NULL,
	risk TEXT NOT NULL,
	triggers TEXT NOT NULL DEFAULT '[]',
	proposed_slots TEXT NOT NULL DEFAULT '{}',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_confirmation_session ON confirmation_request(session_id, resolved_at);
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply sqlite schema")
	}
	return nil
}
