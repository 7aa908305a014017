package store

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"triage-agent/internal/errs"
)

// WaitingForStore handles database operations for tracked outstanding
// replies.
type WaitingForStore struct {
	db *sql.DB
}

func NewWaitingForStore(db *sql.DB) *WaitingForStore {
	return &WaitingForStore{db: db}
}

// CreateWaitingFor inserts a new active waiting-for tracker and returns its
// id. Created exactly when a classification yields action type
// "Waiting For" with a non-empty expected sender.
func (s *WaitingForStore) CreateWaitingFor(w *WaitingFor) (string, error) {
	id := uuid.NewString()
	if w.NudgeAfterHours <= 0 {
		w.NudgeAfterHours = 72
	}
	_, err := s.db.Exec(`
		INSERT INTO waiting_for (
			id, email_id, conversation_id, expected_from, description, nudge_after_hours, status
		) VALUES (?, ?, ?, ?, ?, ?, 'waiting')
	`, id, w.EmailID, w.ConversationID, w.ExpectedFrom, w.Description, w.NudgeAfterHours)
	if err != nil {
		return "", errs.NewStoreError("CreateWaitingFor", err)
	}
	return id, nil
}

func scanWaitingFor(row interface{ Scan(...any) error }) (*WaitingFor, error) {
	var w WaitingFor
	var status string
	err := row.Scan(
		&w.ID, &w.EmailID, &w.ConversationID, &w.WaitingSince, &w.ExpectedFrom,
		&w.Description, &w.NudgeAfterHours, &status, &w.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = WaitingForStatus(status)
	return &w, nil
}

const selectWaitingForColumns = `
	id, email_id, conversation_id, waiting_since, expected_from, description,
	nudge_after_hours, status, resolved_at
`

// GetActiveWaitingFor returns every waiting-for tracker still in status
// "waiting", oldest first.
func (s *WaitingForStore) GetActiveWaitingFor() ([]*WaitingFor, error) {
	rows, err := s.db.Query(`
		SELECT ` + selectWaitingForColumns + ` FROM waiting_for
		WHERE status = 'waiting'
		ORDER BY waiting_since ASC
	`)
	if err != nil {
		return nil, errs.NewStoreError("GetActiveWaitingFor", err)
	}
	defer rows.Close()

	var out []*WaitingFor
	for rows.Next() {
		w, err := scanWaitingFor(rows)
		if err != nil {
			return nil, errs.NewStoreError("GetActiveWaitingFor", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ResolveWaitingFor marks a waiting-for tracker resolved with the given
// terminal status ("received" or "expired").
func (s *WaitingForStore) ResolveWaitingFor(id string, status WaitingForStatus) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE waiting_for
		SET status = ?, resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'waiting'
	`, string(status), id)
	if err != nil {
		return false, errs.NewStoreError("ResolveWaitingFor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.NewStoreError("ResolveWaitingFor", err)
	}
	return n > 0, nil
}

// CheckWaitingForByConversation reports the active waiting-for tracker, if
// any, attached to a conversation — used to detect that an inbound reply
// resolves a previously tracked outstanding message.
func (s *WaitingForStore) CheckWaitingForByConversation(conversationID string) (*WaitingFor, error) {
	row := s.db.QueryRow(`
		SELECT `+selectWaitingForColumns+` FROM waiting_for
		WHERE conversation_id = ? AND status = 'waiting'
		ORDER BY waiting_since DESC
		LIMIT 1
	`, conversationID)
	w, err := scanWaitingFor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.NewStoreError("CheckWaitingForByConversation", err)
	}
	return w, nil
}

// ExpireStaleWaitingFor transitions waiting-for trackers past their
// nudge-after-hours deadline to expired, returning the count affected.
func (s *WaitingForStore) ExpireStaleWaitingFor() (int, error) {
	res, err := s.db.Exec(`
		UPDATE waiting_for
		SET status = 'expired', resolved_at = CURRENT_TIMESTAMP
		WHERE status = 'waiting'
		  AND waiting_since <= datetime(CURRENT_TIMESTAMP, '-' || nudge_after_hours || ' hours')
	`)
	if err != nil {
		return 0, errs.NewStoreError("ExpireStaleWaitingFor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.NewStoreError("ExpireStaleWaitingFor", err)
	}
	return int(n), nil
}
