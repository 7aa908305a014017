// Copyright 2024 Package Tracking System
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the persistence layer for the triage agent: a single
// SQLite database holding emails, suggestions, waiting-for trackers, sender
// profiles, agent state, and audit logs.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection and provides access to the typed stores.
type DB struct {
	*sql.DB
	Emails         *EmailStore
	Suggestions    *SuggestionStore
	WaitingFor     *WaitingForStore
	SenderProfiles *SenderProfileStore
	AgentState     *AgentStateStore
	ActionLog      *ActionLogStore
	LlmLog         *LlmLogStore
}

// Open opens (and if necessary creates) the SQLite database at dbPath,
// configures it for a single-writer/many-reader daemon workload, and runs
// the schema migration.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets the review API read while a triage cycle writes.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// A busy writer (the cycle holding a suggestion-approval transaction)
	// should make concurrent callers wait rather than fail immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	database := &DB{
		DB:             db,
		Emails:         NewEmailStore(db),
		Suggestions:    NewSuggestionStore(db),
		WaitingFor:     NewWaitingForStore(db),
		SenderProfiles: NewSenderProfileStore(db),
		AgentState:     NewAgentStateStore(db),
		ActionLog:      NewActionLogStore(db),
		LlmLog:         NewLlmLogStore(db),
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// migrate creates the database schema. It is additive and idempotent: safe
// to run on every startup.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS emails (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		conversation_index BLOB,
		subject TEXT NOT NULL DEFAULT '',
		sender_email TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		received_at DATETIME NOT NULL,
		snippet TEXT NOT NULL DEFAULT '',
		folder_path TEXT NOT NULL DEFAULT '',
		importance TEXT NOT NULL DEFAULT 'normal',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		flag_status TEXT NOT NULL DEFAULT '',
		has_user_replied BOOLEAN NOT NULL DEFAULT FALSE,
		inherited_folder TEXT,
		processed_at DATETIME,
		classification_result TEXT,
		classification_attempts INTEGER NOT NULL DEFAULT 0,
		classification_status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_emails_conversation ON emails(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender_email);
	CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(classification_status);
	CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);

	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		suggested_folder TEXT NOT NULL,
		suggested_priority TEXT NOT NULL,
		suggested_action_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL,
		suggested_new_project TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		approved_folder TEXT,
		approved_priority TEXT,
		approved_action_type TEXT,
		resolved_at DATETIME,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_suggestions_email ON suggestions(email_id);
	CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status);
	CREATE INDEX IF NOT EXISTS idx_suggestions_expires ON suggestions(status, expires_at);

	CREATE TABLE IF NOT EXISTS waiting_for (
		id TEXT PRIMARY KEY,
		email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
		conversation_id TEXT NOT NULL,
		waiting_since DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expected_from TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		nudge_after_hours INTEGER NOT NULL DEFAULT 72,
		status TEXT NOT NULL DEFAULT 'waiting',
		resolved_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_waiting_for_conversation ON waiting_for(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_waiting_for_status ON waiting_for(status);

	CREATE TABLE IF NOT EXISTS sender_profiles (
		sender_email TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'unknown',
		default_folder TEXT,
		email_count INTEGER NOT NULL DEFAULT 0,
		last_seen_at DATETIME,
		auto_rule_candidate BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agent_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS action_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		correlation_id TEXT NOT NULL,
		email_id TEXT,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_action_log_correlation ON action_log(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_action_log_email ON action_log(email_id);

	CREATE TABLE IF NOT EXISTS llm_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		correlation_id TEXT NOT NULL,
		email_id TEXT,
		model TEXT NOT NULL DEFAULT '',
		request TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 1,
		outcome TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_llm_log_created ON llm_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_llm_log_email ON llm_log(email_id);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// IsHealthy reports whether the database connection is usable.
func (db *DB) IsHealthy() error {
	return db.Ping()
}
