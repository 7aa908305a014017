package store

import (
	"database/sql"
	"errors"

	"triage-agent/internal/errs"
)

// AgentStateStore handles the key/value bag of cross-cycle engine state
// (delta cursors, last-processed timestamps, learned preferences).
type AgentStateStore struct {
	db *sql.DB
}

func NewAgentStateStore(db *sql.DB) *AgentStateStore {
	return &AgentStateStore{db: db}
}

// GetState returns the value for key, and false if it has never been set.
func (s *AgentStateStore) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM agent_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errs.NewStoreError("GetState", err)
	}
	return value, true, nil
}

// SetState upserts a key/value pair.
func (s *AgentStateStore) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return errs.NewStoreError("SetState", err)
	}
	return nil
}

// DeleteState removes a key, if present.
func (s *AgentStateStore) DeleteState(key string) error {
	if _, err := s.db.Exec(`DELETE FROM agent_state WHERE key = ?`, key); err != nil {
		return errs.NewStoreError("DeleteState", err)
	}
	return nil
}
