package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"triage-agent/internal/errs"
)

// SuggestionStore handles database operations for classification
// suggestions.
type SuggestionStore struct {
	db *sql.DB
}

func NewSuggestionStore(db *sql.DB) *SuggestionStore {
	return &SuggestionStore{db: db}
}

// CreateSuggestion inserts a new pending suggestion with a fresh surrogate
// id and the given expiry horizon, and returns the id.
func (s *SuggestionStore) CreateSuggestion(sg *Suggestion, expireAfterDays int) (string, error) {
	id := uuid.NewString()
	expiresAt := time.Now().Add(time.Duration(expireAfterDays) * 24 * time.Hour)

	_, err := s.db.Exec(`
		INSERT INTO suggestions (
			id, email_id, suggested_folder, suggested_priority, suggested_action_type,
			confidence, reasoning, method, suggested_new_project, status, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
	`, id, sg.EmailID, sg.SuggestedFolder, string(sg.SuggestedPriority), string(sg.SuggestedActionType),
		sg.Confidence, sg.Reasoning, sg.Method, sg.SuggestedNewProject, expiresAt)
	if err != nil {
		return "", errs.NewStoreError("CreateSuggestion", err)
	}
	return id, nil
}

func scanSuggestion(row interface{ Scan(...any) error }) (*Suggestion, error) {
	var sg Suggestion
	var priority, action, status string
	var approvedPriority, approvedAction sql.NullString
	err := row.Scan(
		&sg.ID, &sg.EmailID, &sg.CreatedAt, &sg.SuggestedFolder, &priority, &action,
		&sg.Confidence, &sg.Reasoning, &sg.Method, &sg.SuggestedNewProject, &status,
		&sg.ApprovedFolder, &approvedPriority, &approvedAction, &sg.ResolvedAt, &sg.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	sg.SuggestedPriority = Priority(priority)
	sg.SuggestedActionType = ActionType(action)
	sg.Status = SuggestionStatus(status)
	if approvedPriority.Valid {
		p := Priority(approvedPriority.String)
		sg.ApprovedPriority = &p
	}
	if approvedAction.Valid {
		a := ActionType(approvedAction.String)
		sg.ApprovedActionType = &a
	}
	return &sg, nil
}

const selectSuggestionColumns = `
	id, email_id, created_at, suggested_folder, suggested_priority, suggested_action_type,
	confidence, reasoning, method, suggested_new_project, status,
	approved_folder, approved_priority, approved_action_type, resolved_at, expires_at
`

// GetSuggestion retrieves a suggestion by id.
func (s *SuggestionStore) GetSuggestion(id string) (*Suggestion, error) {
	row := s.db.QueryRow(`SELECT `+selectSuggestionColumns+` FROM suggestions WHERE id = ?`, id)
	sg, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.NewStoreError("GetSuggestion", err)
	}
	return sg, nil
}

// GetPendingSuggestions returns every suggestion awaiting user review,
// oldest first.
func (s *SuggestionStore) GetPendingSuggestions() ([]*Suggestion, error) {
	rows, err := s.db.Query(`
		SELECT `+selectSuggestionColumns+` FROM suggestions
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, errs.NewStoreError("GetPendingSuggestions", err)
	}
	defer rows.Close()

	var out []*Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, errs.NewStoreError("GetPendingSuggestions", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// ApproveSuggestion performs the single atomic conditional update described
// by invariant S1/S2: it resolves a pending suggestion, filling any omitted
// approved field with the corresponding suggested value, sets status to
// "approved" when every approved field matches the suggestion, or "partial"
// when at least one was corrected. It returns false (no error) when the row
// is missing or was already resolved by a concurrent caller.
func (s *SuggestionStore) ApproveSuggestion(id string, folder, priority, action *string) (bool, error) {
	sg, err := s.GetSuggestion(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	finalFolder := sg.SuggestedFolder
	if folder != nil {
		finalFolder = *folder
	}
	finalPriority := string(sg.SuggestedPriority)
	if priority != nil {
		finalPriority = *priority
	}
	finalAction := string(sg.SuggestedActionType)
	if action != nil {
		finalAction = *action
	}

	status := string(SuggestionApproved)
	if finalFolder != sg.SuggestedFolder || finalPriority != string(sg.SuggestedPriority) || finalAction != string(sg.SuggestedActionType) {
		status = string(SuggestionPartial)
	}

	res, err := s.db.Exec(`
		UPDATE suggestions
		SET status = ?, approved_folder = ?, approved_priority = ?, approved_action_type = ?,
		    resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`, status, finalFolder, finalPriority, finalAction, id)
	if err != nil {
		return false, errs.NewStoreError("ApproveSuggestion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.NewStoreError("ApproveSuggestion", err)
	}
	return n > 0, nil
}

// RejectSuggestion resolves a pending suggestion as rejected. Approved
// fields are left null per invariant S1 (a rejection records no accepted
// values). Returns false when the row is missing or already resolved.
func (s *SuggestionStore) RejectSuggestion(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE suggestions
		SET status = 'rejected', resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`, id)
	if err != nil {
		return false, errs.NewStoreError("RejectSuggestion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.NewStoreError("RejectSuggestion", err)
	}
	return n > 0, nil
}

// ExpireOldSuggestions transitions pending suggestions created more than
// days ago to rejected (invariant S3), returning the count affected.
func (s *SuggestionStore) ExpireOldSuggestions(days int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := s.db.Exec(`
		UPDATE suggestions
		SET status = 'rejected', resolved_at = CURRENT_TIMESTAMP
		WHERE status = 'pending' AND created_at <= ?
	`, cutoff)
	if err != nil {
		return 0, errs.NewStoreError("ExpireOldSuggestions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.NewStoreError("ExpireOldSuggestions", err)
	}
	return int(n), nil
}
