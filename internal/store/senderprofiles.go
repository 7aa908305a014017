package store

import (
	"database/sql"
	"errors"
	"strings"

	"triage-agent/internal/errs"
)

// SenderProfileStore handles database operations for learned sender
// history.
type SenderProfileStore struct {
	db *sql.DB
}

func NewSenderProfileStore(db *sql.DB) *SenderProfileStore {
	return &SenderProfileStore{db: db}
}

// categoryRank orders categories so a non-unknown category never loses to
// "unknown" on upsert (invariant SP1): unknown is the only downgrade-proof
// floor, every other category is equally "known" and the newest wins.
func categoryRank(c SenderCategory) int {
	if c == CategoryUnknown || c == "" {
		return 0
	}
	return 1
}

// UpsertSenderProfile inserts or updates one sender profile. Category
// follows invariant SP1 (a non-unknown category overrides unknown but
// never downgrades an existing non-unknown category); email count follows
// invariant SP2 (monotonic non-decreasing, incremented by one per call).
func (s *SenderProfileStore) UpsertSenderProfile(p *SenderProfile) error {
	return s.upsertSenderProfiles(s.db, []*SenderProfile{p})
}

// UpsertSenderProfilesBatch upserts many sender profiles in one
// transaction.
func (s *SenderProfileStore) UpsertSenderProfilesBatch(profiles []*SenderProfile) error {
	if len(profiles) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errs.NewStoreError("UpsertSenderProfilesBatch", err)
	}
	defer tx.Rollback()

	if err := s.upsertSenderProfiles(tx, profiles); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewStoreError("UpsertSenderProfilesBatch", err)
	}
	return nil
}

// execQueryRower is satisfied by both *sql.DB and *sql.Tx.
type execQueryRower interface {
	execer
	QueryRow(query string, args ...any) *sql.Row
}

func (s *SenderProfileStore) upsertSenderProfiles(x execQueryRower, profiles []*SenderProfile) error {
	for _, p := range profiles {
		email := strings.ToLower(p.SenderEmail)
		if p.Category == "" {
			p.Category = CategoryUnknown
		}

		existing, err := s.getSenderProfile(x, email)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errs.NewStoreError("UpsertSenderProfile", err)
		}

		category := p.Category
		emailCount := p.EmailCount
		if emailCount <= 0 {
			emailCount = 1
		}

		if existing != nil {
			if categoryRank(existing.Category) > categoryRank(category) {
				category = existing.Category
			}
			// Invariant SP2: never let an upsert regress the running count.
			if existing.EmailCount+1 > emailCount {
				emailCount = existing.EmailCount + 1
			}
		}

		_, err = x.Exec(`
			INSERT INTO sender_profiles (
				sender_email, display_name, domain, category, default_folder,
				email_count, last_seen_at, auto_rule_candidate, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(sender_email) DO UPDATE SET
				display_name = excluded.display_name,
				domain = excluded.domain,
				category = excluded.category,
				default_folder = COALESCE(excluded.default_folder, sender_profiles.default_folder),
				email_count = excluded.email_count,
				last_seen_at = CURRENT_TIMESTAMP,
				auto_rule_candidate = excluded.auto_rule_candidate,
				updated_at = CURRENT_TIMESTAMP
		`, email, p.DisplayName, p.Domain, string(category), p.DefaultFolder, emailCount, p.AutoRuleCandidate)
		if err != nil {
			return errs.NewStoreError("UpsertSenderProfile", err)
		}
	}
	return nil
}

func scanSenderProfile(row interface{ Scan(...any) error }) (*SenderProfile, error) {
	var p SenderProfile
	var category string
	err := row.Scan(
		&p.SenderEmail, &p.DisplayName, &p.Domain, &category, &p.DefaultFolder,
		&p.EmailCount, &p.LastSeenAt, &p.AutoRuleCandidate, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Category = SenderCategory(category)
	return &p, nil
}

const selectSenderProfileColumns = `
	sender_email, display_name, domain, category, default_folder,
	email_count, last_seen_at, auto_rule_candidate, updated_at
`

func (s *SenderProfileStore) getSenderProfile(x interface {
	QueryRow(query string, args ...any) *sql.Row
}, email string) (*SenderProfile, error) {
	row := x.QueryRow(`SELECT `+selectSenderProfileColumns+` FROM sender_profiles WHERE sender_email = ?`, email)
	return scanSenderProfile(row)
}

// GetSenderProfile retrieves one sender profile by lowercased address.
func (s *SenderProfileStore) GetSenderProfile(email string) (*SenderProfile, error) {
	p, err := s.getSenderProfile(s.db, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.NewStoreError("GetSenderProfile", err)
	}
	return p, nil
}

// GetSenderHistory summarizes where a sender's prior emails landed, for the
// context assembler's strong-pattern inheritance rule.
func (s *SenderProfileStore) GetSenderHistory(email string) (SenderHistory, error) {
	rows, err := s.db.Query(`
		SELECT COALESCE(sg.approved_folder, sg.suggested_folder) AS folder, COUNT(*)
		FROM suggestions sg
		JOIN emails e ON e.id = sg.email_id
		WHERE e.sender_email = ? AND sg.status IN ('approved', 'partial')
		GROUP BY folder
	`, strings.ToLower(email))
	if err != nil {
		return SenderHistory{}, errs.NewStoreError("GetSenderHistory", err)
	}
	defer rows.Close()

	hist := SenderHistory{FolderCounts: map[string]int{}}
	for rows.Next() {
		var folder string
		var count int
		if err := rows.Scan(&folder, &count); err != nil {
			return SenderHistory{}, errs.NewStoreError("GetSenderHistory", err)
		}
		hist.FolderCounts[folder] = count
		hist.Total += count
	}
	return hist, rows.Err()
}

// GetSenderHistoriesBatch looks up histories for many senders at once.
func (s *SenderProfileStore) GetSenderHistoriesBatch(emails []string) (map[string]SenderHistory, error) {
	out := make(map[string]SenderHistory, len(emails))
	for _, e := range emails {
		h, err := s.GetSenderHistory(e)
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(e)] = h
	}
	return out, nil
}
