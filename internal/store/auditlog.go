package store

import (
	"database/sql"
	"time"

	"triage-agent/internal/errs"
)

// ActionLogStore is the append-only record of engine actions, keyed by the
// triage cycle's correlation id.
type ActionLogStore struct {
	db *sql.DB
}

func NewActionLogStore(db *sql.DB) *ActionLogStore {
	return &ActionLogStore{db: db}
}

// LogAction appends one action-log entry. Storage errors here never abort
// the caller's primary effect; callers should log and continue on error.
func (s *ActionLogStore) LogAction(correlationID string, emailID *string, action, detail string) error {
	_, err := s.db.Exec(`
		INSERT INTO action_log (correlation_id, email_id, action, detail) VALUES (?, ?, ?, ?)
	`, correlationID, emailID, action, detail)
	if err != nil {
		return errs.NewStoreError("LogAction", err)
	}
	return nil
}

// LlmLogStore is the append-only record of classifier LLM requests, kept
// for debugging; preference-learner corrections come from the suggestions
// table instead (see GetRecentCorrections).
type LlmLogStore struct {
	db *sql.DB
}

func NewLlmLogStore(db *sql.DB) *LlmLogStore {
	return &LlmLogStore{db: db}
}

// LlmLogEntry is one recorded LLM call.
type LlmLogEntry struct {
	CorrelationID string
	EmailID       *string
	Model         string
	Request       string
	Response      string
	Attempt       int
	Outcome       string
	LatencyMs     int64
}

// LogLlmRequest appends one LLM call record.
func (s *LlmLogStore) LogLlmRequest(e LlmLogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO llm_log (correlation_id, email_id, model, request, response, attempt, outcome, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.CorrelationID, e.EmailID, e.Model, e.Request, e.Response, e.Attempt, e.Outcome, e.LatencyMs)
	if err != nil {
		return errs.NewStoreError("LogLlmRequest", err)
	}
	return nil
}

// PruneLlmLogs deletes llm_log rows older than retentionDays, returning the
// count removed.
func (s *LlmLogStore) PruneLlmLogs(retentionDays int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	res, err := s.db.Exec(`DELETE FROM llm_log WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, errs.NewStoreError("PruneLlmLogs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.NewStoreError("PruneLlmLogs", err)
	}
	return int(n), nil
}

// Vacuum reclaims space left by pruned/expired rows. Run from maintenance,
// not on the request path.
func (db *DB) Vacuum() error {
	if _, err := db.Exec("VACUUM"); err != nil {
		return errs.NewStoreError("Vacuum", err)
	}
	return nil
}

// Analyze refreshes SQLite's query planner statistics.
func (db *DB) Analyze() error {
	if _, err := db.Exec("ANALYZE"); err != nil {
		return errs.NewStoreError("Analyze", err)
	}
	return nil
}

// CorrectionCount summarizes how often approvals came back as partial
// (a user correction) for one suggested folder, for the preference
// learner's prompt-rewrite heuristics.
type CorrectionCount struct {
	SuggestedFolder string
	ApprovedFolder  string
	Count           int
}

// GetRecentCorrections returns every partial (corrected) resolution in the
// last `days` days, grouped by the suggested-vs-approved folder pair.
func (db *DB) GetRecentCorrections(days int) ([]CorrectionCount, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := db.Query(`
		SELECT suggested_folder, approved_folder, COUNT(*)
		FROM suggestions
		WHERE status = 'partial' AND resolved_at >= ?
		GROUP BY suggested_folder, approved_folder
		ORDER BY COUNT(*) DESC
	`, cutoff)
	if err != nil {
		return nil, errs.NewStoreError("GetRecentCorrections", err)
	}
	defer rows.Close()

	var out []CorrectionCount
	for rows.Next() {
		var c CorrectionCount
		var approved sql.NullString
		if err := rows.Scan(&c.SuggestedFolder, &approved, &c.Count); err != nil {
			return nil, errs.NewStoreError("GetRecentCorrections", err)
		}
		c.ApprovedFolder = approved.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCorrectionCountSince counts partial resolutions since ts, used by the
// preference learner to decide whether enough new signal has accumulated
// to justify rewriting the preference blob.
func (db *DB) GetCorrectionCountSince(ts time.Time) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM suggestions WHERE status = 'partial' AND resolved_at >= ?
	`, ts).Scan(&count)
	if err != nil {
		return 0, errs.NewStoreError("GetCorrectionCountSince", err)
	}
	return count, nil
}
