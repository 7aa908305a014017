package store

import (
	"database/sql"
	"errors"
	"fmt"

	"triage-agent/internal/errs"
)

// EmailStore handles database operations for emails.
type EmailStore struct {
	db *sql.DB
}

func NewEmailStore(db *sql.DB) *EmailStore {
	return &EmailStore{db: db}
}

// truncateSnippet enforces invariant E1 at write time, independent of
// whatever upstream cleaning produced the value.
func truncateSnippet(snippet string, maxLength int) string {
	if maxLength <= 0 || len(snippet) <= maxLength {
		return snippet
	}
	return snippet[:maxLength]
}

// SaveEmail upserts a single email by id, truncating its snippet to
// maxSnippetLength (invariant E1).
func (s *EmailStore) SaveEmail(e *Email, maxSnippetLength int) error {
	return s.saveEmails(s.db, []*Email{e}, maxSnippetLength)
}

// SaveEmailsBatch upserts a batch of emails in a single transaction.
func (s *EmailStore) SaveEmailsBatch(emails []*Email, maxSnippetLength int) error {
	if len(emails) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errs.NewStoreError("SaveEmailsBatch", err)
	}
	defer tx.Rollback()

	if err := s.saveEmails(tx, emails, maxSnippetLength); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.NewStoreError("SaveEmailsBatch", err)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *EmailStore) saveEmails(x execer, emails []*Email, maxSnippetLength int) error {
	const query = `
	INSERT INTO emails (
		id, conversation_id, conversation_index, subject, sender_email, sender_name,
		received_at, snippet, folder_path, importance, is_read, flag_status,
		has_user_replied, inherited_folder, processed_at, classification_result,
		classification_attempts, classification_status, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		conversation_id = excluded.conversation_id,
		conversation_index = excluded.conversation_index,
		subject = excluded.subject,
		sender_email = excluded.sender_email,
		sender_name = excluded.sender_name,
		received_at = excluded.received_at,
		snippet = excluded.snippet,
		folder_path = excluded.folder_path,
		importance = excluded.importance,
		is_read = excluded.is_read,
		flag_status = excluded.flag_status,
		has_user_replied = excluded.has_user_replied,
		inherited_folder = excluded.inherited_folder,
		processed_at = excluded.processed_at,
		classification_result = excluded.classification_result,
		classification_attempts = excluded.classification_attempts,
		classification_status = excluded.classification_status,
		updated_at = CURRENT_TIMESTAMP
	`
	for _, e := range emails {
		snippet := truncateSnippet(e.Snippet, maxSnippetLength)
		if e.ClassificationStatus == "" {
			e.ClassificationStatus = ClassificationPending
		}
		if e.Importance == "" {
			e.Importance = ImportanceNormal
		}
		_, err := x.Exec(query,
			e.ID, e.ConversationID, e.ConversationIndex, e.Subject, e.SenderEmail, e.SenderName,
			e.ReceivedAt, snippet, e.FolderPath, string(e.Importance), e.IsRead, e.FlagStatus,
			e.HasUserReplied, e.InheritedFolder, e.ProcessedAt, e.ClassificationResult,
			e.ClassificationAttempts, string(e.ClassificationStatus),
		)
		if err != nil {
			return errs.NewStoreError("SaveEmail", fmt.Errorf("email %s: %w", e.ID, err))
		}
	}
	return nil
}

func scanEmail(row interface{ Scan(...any) error }) (*Email, error) {
	var e Email
	var importance, status string
	err := row.Scan(
		&e.ID, &e.ConversationID, &e.ConversationIndex, &e.Subject, &e.SenderEmail, &e.SenderName,
		&e.ReceivedAt, &e.Snippet, &e.FolderPath, &importance, &e.IsRead, &e.FlagStatus,
		&e.HasUserReplied, &e.InheritedFolder, &e.ProcessedAt, &e.ClassificationResult,
		&e.ClassificationAttempts, &status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Importance = Importance(importance)
	e.ClassificationStatus = ClassificationStatus(status)
	return &e, nil
}

const selectEmailColumns = `
	id, conversation_id, conversation_index, subject, sender_email, sender_name,
	received_at, snippet, folder_path, importance, is_read, flag_status,
	has_user_replied, inherited_folder, processed_at, classification_result,
	classification_attempts, classification_status, created_at, updated_at
`

// EmailExists reports whether an email with the given id has been stored.
func (s *EmailStore) EmailExists(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM emails WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, errs.NewStoreError("EmailExists", err)
	}
	return exists, nil
}

// GetEmail retrieves a single email by id, returning sql.ErrNoRows if absent.
func (s *EmailStore) GetEmail(id string) (*Email, error) {
	row := s.db.QueryRow(`SELECT `+selectEmailColumns+` FROM emails WHERE id = ?`, id)
	e, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.NewStoreError("GetEmail", err)
	}
	return e, nil
}

// GetThreadEmails returns up to limit prior emails in the conversation,
// most recent first, excluding the given message id.
func (s *EmailStore) GetThreadEmails(conversationID, exclude string, limit int) ([]*Email, error) {
	rows, err := s.db.Query(`
		SELECT `+selectEmailColumns+` FROM emails
		WHERE conversation_id = ? AND id != ?
		ORDER BY received_at DESC
		LIMIT ?
	`, conversationID, exclude, limit)
	if err != nil {
		return nil, errs.NewStoreError("GetThreadEmails", err)
	}
	defer rows.Close()

	var out []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, errs.NewStoreError("GetThreadEmails", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEmailsBatch retrieves every email matching the given ids.
func (s *EmailStore) GetEmailsBatch(ids []string) ([]*Email, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause(`SELECT `+selectEmailColumns+` FROM emails WHERE id IN (%s)`, ids)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.NewStoreError("GetEmailsBatch", err)
	}
	defer rows.Close()

	var out []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, errs.NewStoreError("GetEmailsBatch", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateClassificationStatus sets classification status and, optionally,
// the classification result blob and processed-at timestamp.
func (s *EmailStore) UpdateClassificationStatus(id string, status ClassificationStatus, jsonBlob *string) error {
	res, err := s.db.Exec(`
		UPDATE emails
		SET classification_status = ?, classification_result = COALESCE(?, classification_result),
		    processed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(status), jsonBlob, id)
	if err != nil {
		return errs.NewStoreError("UpdateClassificationStatus", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.NewStoreError("UpdateClassificationStatus", err)
	}
	if n == 0 {
		return errs.NewStoreError("UpdateClassificationStatus", sql.ErrNoRows)
	}
	return nil
}

// IncrementClassificationAttempts atomically increments the attempt
// counter and returns the new count (0 if the row is absent). When the
// new count reaches MaxClassificationAttempts the status is set to
// failed, per invariant E2.
func (s *EmailStore) IncrementClassificationAttempts(id string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errs.NewStoreError("IncrementClassificationAttempts", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE emails
		SET classification_attempts = classification_attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	if err != nil {
		return 0, errs.NewStoreError("IncrementClassificationAttempts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.NewStoreError("IncrementClassificationAttempts", err)
	}
	if n == 0 {
		return 0, nil
	}

	var newCount int
	if err := tx.QueryRow(`SELECT classification_attempts FROM emails WHERE id = ?`, id).Scan(&newCount); err != nil {
		return 0, errs.NewStoreError("IncrementClassificationAttempts", err)
	}

	if newCount >= MaxClassificationAttempts {
		if _, err := tx.Exec(`UPDATE emails SET classification_status = ? WHERE id = ?`, string(ClassificationFailed), id); err != nil {
			return 0, errs.NewStoreError("IncrementClassificationAttempts", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.NewStoreError("IncrementClassificationAttempts", err)
	}
	return newCount, nil
}

// GetThreadClassification returns the most recent approved-or-partial
// suggestion's folder and confidence across the whole conversation,
// ordered by the owning email's received time descending.
func (s *EmailStore) GetThreadClassification(conversationID string) (folder string, confidence float64, found bool, err error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(sg.approved_folder, sg.suggested_folder), sg.confidence
		FROM suggestions sg
		JOIN emails e ON e.id = sg.email_id
		WHERE e.conversation_id = ? AND sg.status IN ('approved', 'partial')
		ORDER BY e.received_at DESC
		LIMIT 1
	`, conversationID)
	scanErr := row.Scan(&folder, &confidence)
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", 0, false, nil
		}
		return "", 0, false, errs.NewStoreError("GetThreadClassification", scanErr)
	}
	return folder, confidence, true, nil
}

// GetPendingWithoutSuggestion returns up to limit pending emails that
// have never had a suggestion created, FIFO by received time, for
// backlog processing (§4.5.3).
func (s *EmailStore) GetPendingWithoutSuggestion(limit int) ([]*Email, error) {
	rows, err := s.db.Query(`
		SELECT `+selectEmailColumns+` FROM emails e
		WHERE e.classification_status = ?
		  AND NOT EXISTS (SELECT 1 FROM suggestions sg WHERE sg.email_id = e.id)
		ORDER BY e.received_at ASC
		LIMIT ?
	`, string(ClassificationPending), limit)
	if err != nil {
		return nil, errs.NewStoreError("GetPendingWithoutSuggestion", err)
	}
	defer rows.Close()

	var out []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, errs.NewStoreError("GetPendingWithoutSuggestion", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// inClause builds a "col IN (?, ?, ...)" fragment for a dynamic id list.
func inClause(format string, ids []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	return fmt.Sprintf(format, placeholders), args
}
