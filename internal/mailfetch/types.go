// Package mailfetch wraps the mail provider capability behind a narrow
// interface, so the triage engine never depends on a specific vendor's
// wire format. The default adapter talks to Microsoft Graph over REST;
// there is no generated Go client for Graph in this module's dependency
// set, so the adapter speaks raw HTTP/JSON in the same idiom the
// classifier's LLM client uses for its own vendor-less REST API.
package mailfetch

import (
	"context"
	"time"
)

// Flag mirrors Outlook's follow-up flag object.
type Flag struct {
	Status string // "notFlagged", "flagged", "complete"
}

// Message is the fixed field projection the fetcher asks the mail
// capability for. Body is never fetched — only a preview suitable for
// downstream cleaning into a snippet.
type Message struct {
	ID                string
	ConversationID    string
	ConversationIndex []byte
	Subject           string
	FromAddress       string
	FromName          string
	ReceivedAt        time.Time
	BodyPreview       string
	Flag              Flag
	ParentFolderID    string
	WebLink           string
	Importance        string // "low", "normal", "high"
	IsRead            bool
	HasAttachments    bool
}

// DeltaResult is what a delta-sync call returns on success.
type DeltaResult struct {
	Messages  []Message
	NewCursor string
}

// MailCapability is the external mail provider collaborator the engine
// depends on. Every method is safe to call concurrently.
type MailCapability interface {
	// GetDeltaMessages pulls new messages in folder since cursor. An
	// empty cursor means "from the beginning of the delta window the
	// provider is willing to give us". Returns an *errs.MailAPIError
	// with subkind delta_token_expired when the cursor is no longer
	// valid (HTTP 410 Gone).
	GetDeltaMessages(ctx context.Context, folder, cursor string) (DeltaResult, error)

	// ListMessages performs a timestamp-window query, used as the
	// delta-cursor-expiry fallback.
	ListMessages(ctx context.Context, folder string, since time.Time) ([]Message, error)

	// GetThreadMessages tops up thread context beyond what the Store
	// already has.
	GetThreadMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// MoveMessage moves a message to destFolderID. Idempotent: moving a
	// message already in destFolderID is a no-op success.
	MoveMessage(ctx context.Context, messageID, destFolderID string) error

	// SetCategories replaces a message's category set.
	SetCategories(ctx context.Context, messageID string, categories []string) error

	// AddCategories merges categories into a message's existing set,
	// using the message's current ETag to detect a concurrent edit; on
	// an ETag mismatch (HTTP 412) the implementation refetches and
	// retries, returning *errs.ConflictError once its attempts run out.
	AddCategories(ctx context.Context, messageID string, categories []string) error

	// GetFolderByPath resolves a "/"-delimited folder path (creating
	// intermediate folders as needed when create is true) to a
	// provider folder id.
	GetFolderByPath(ctx context.Context, path string, create bool) (folderID string, err error)

	// ListSentItems lists the user's recently sent messages, used to
	// warm the has-user-replied cache.
	ListSentItems(ctx context.Context, since time.Time) ([]Message, error)
}
