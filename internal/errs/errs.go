// Package errs defines the error kinds that cross component boundaries
// in the triage agent, so callers can distinguish storage failures from
// mail-API failures from classification failures without string matching.
package errs

import (
	"errors"
	"fmt"
)

// StoreError wraps any failure from the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// MailAPISubkind distinguishes the mail-capability failure modes the
// engine reacts to differently.
type MailAPISubkind string

const (
	MailSubkindDeltaTokenExpired MailAPISubkind = "delta_token_expired"
	MailSubkindConflict          MailAPISubkind = "conflict"
	MailSubkindRateLimited       MailAPISubkind = "rate_limited"
	MailSubkindTransient         MailAPISubkind = "transient"
)

// MailAPIError wraps a mail-capability failure.
type MailAPIError struct {
	Subkind MailAPISubkind
	Op      string
	Err     error
}

func (e *MailAPIError) Error() string {
	return fmt.Sprintf("graph api: %s (%s): %v", e.Op, e.Subkind, e.Err)
}
func (e *MailAPIError) Unwrap() error { return e.Err }

func NewMailAPIError(op string, subkind MailAPISubkind, err error) error {
	return &MailAPIError{Op: op, Subkind: subkind, Err: err}
}

// IsDeltaTokenExpired reports whether err is a MailAPIError signaling an
// expired delta cursor.
func IsDeltaTokenExpired(err error) bool {
	var mailErr *MailAPIError
	return errors.As(err, &mailErr) && mailErr.Subkind == MailSubkindDeltaTokenExpired
}

// ClassificationError is a terminal classification failure after the
// retry budget is exhausted.
type ClassificationError struct {
	EmailID  string
	Attempts int
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed for %s after %d attempts: %v", e.EmailID, e.Attempts, e.Err)
}
func (e *ClassificationError) Unwrap() error { return e.Err }

// ConfigValidationError is raised by the config loader on a bad edit.
type ConfigValidationError struct {
	Field string
	Err   error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %v", e.Field, e.Err)
}
func (e *ConfigValidationError) Unwrap() error { return e.Err }

// ConflictError is an optimistic-concurrency loss (HTTP 412) on a
// category merge, surfaced after the retry budget is exhausted.
type ConflictError struct {
	MessageID string
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict updating categories on %s after %d attempts", e.MessageID, e.Attempts)
}
