package store

import "time"

// Importance mirrors the mail provider's three-level importance flag.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// ClassificationStatus tracks where an email sits in the classification
// ladder.
type ClassificationStatus string

const (
	ClassificationPending    ClassificationStatus = "pending"
	ClassificationClassified ClassificationStatus = "classified"
	ClassificationFailed     ClassificationStatus = "failed"
)

// MaxClassificationAttempts is the attempt count at which a persistently
// unclassifiable email is marked failed (invariant E2).
const MaxClassificationAttempts = 3

// Priority is one of the four framework priority levels. The classifier
// never invents a fifth; these are the exhaustive enum understood by the
// LLM tool schema and by the review surface.
type Priority string

const (
	PriorityUrgentImportant Priority = "P1 - Urgent Important"
	PriorityImportant       Priority = "P2 - Important"
	PriorityUrgentLow       Priority = "P3 - Urgent Low"
	PriorityLow             Priority = "P4 - Low"
)

// ValidPriorities is the exhaustive set accepted from classifier output.
var ValidPriorities = map[Priority]bool{
	PriorityUrgentImportant: true,
	PriorityImportant:       true,
	PriorityUrgentLow:       true,
	PriorityLow:             true,
}

// ActionType is one of the six framework action types.
type ActionType string

const (
	ActionNeedsReply ActionType = "Needs Reply"
	ActionReview     ActionType = "Review"
	ActionDelegated  ActionType = "Delegated"
	ActionFYIOnly    ActionType = "FYI Only"
	ActionWaitingFor ActionType = "Waiting For"
	ActionScheduled  ActionType = "Scheduled"
)

// ValidActionTypes is the exhaustive set accepted from classifier output.
var ValidActionTypes = map[ActionType]bool{
	ActionNeedsReply: true,
	ActionReview:     true,
	ActionDelegated:  true,
	ActionFYIOnly:    true,
	ActionWaitingFor: true,
	ActionScheduled:  true,
}

// Email is one message as persisted by the store. ConversationIndex is the
// mail provider's opaque thread-position byte string (see DepthFromIndex).
type Email struct {
	ID                      string
	ConversationID          string
	ConversationIndex       []byte
	Subject                 string
	SenderEmail             string
	SenderName              string
	ReceivedAt              time.Time
	Snippet                 string
	FolderPath              string
	Importance              Importance
	IsRead                  bool
	FlagStatus              string
	HasUserReplied          bool
	InheritedFolder         *string
	ProcessedAt             *time.Time
	ClassificationResult    *string
	ClassificationAttempts  int
	ClassificationStatus    ClassificationStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SuggestionStatus tracks the lifecycle of a single classification
// suggestion through user review.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionPartial  SuggestionStatus = "partial"
)

// Suggestion is a single classification decision awaiting, or resolved by,
// user review.
type Suggestion struct {
	ID                  string
	EmailID             string
	CreatedAt           time.Time
	SuggestedFolder     string
	SuggestedPriority   Priority
	SuggestedActionType ActionType
	Confidence          float64
	Reasoning           string
	Method              string
	SuggestedNewProject *string
	Status              SuggestionStatus
	ApprovedFolder      *string
	ApprovedPriority    *Priority
	ApprovedActionType  *ActionType
	ResolvedAt          *time.Time
	ExpiresAt           time.Time
}

// WaitingForStatus tracks whether a tracked reply is still outstanding.
type WaitingForStatus string

const (
	WaitingForActive   WaitingForStatus = "waiting"
	WaitingForReceived WaitingForStatus = "received"
	WaitingForExpired  WaitingForStatus = "expired"
)

// WaitingFor is created whenever a classification yields action type
// "Waiting For" with a non-empty expected sender.
type WaitingFor struct {
	ID              string
	EmailID         string
	ConversationID  string
	WaitingSince    time.Time
	ExpectedFrom    string
	Description     string
	NudgeAfterHours int
	Status          WaitingForStatus
	ResolvedAt      *time.Time
}

// SenderCategory is the taxonomy bucket a sender profile belongs to.
type SenderCategory string

const (
	CategoryKeyContact SenderCategory = "key_contact"
	CategoryNewsletter SenderCategory = "newsletter"
	CategoryAutomated  SenderCategory = "automated"
	CategoryInternal   SenderCategory = "internal"
	CategoryClient     SenderCategory = "client"
	CategoryVendor     SenderCategory = "vendor"
	CategoryUnknown    SenderCategory = "unknown"
)

// SenderProfile is the learned history for one sender address, keyed by
// lowercased email.
type SenderProfile struct {
	SenderEmail       string
	DisplayName       string
	Domain            string
	Category          SenderCategory
	DefaultFolder     *string
	EmailCount        int
	LastSeenAt        *time.Time
	AutoRuleCandidate bool
	UpdatedAt         time.Time
}

// SenderHistory summarizes where a sender's prior emails landed, for the
// "strong pattern" inheritance rule.
type SenderHistory struct {
	Total         int
	FolderCounts  map[string]int
}

// DominantFolder returns the most frequent folder and whether it meets the
// strong-pattern threshold (total >= 5 and dominant share >= 0.8).
func (h SenderHistory) DominantFolder() (folder string, pct float64, ok bool) {
	if h.Total == 0 {
		return "", 0, false
	}
	best, bestCount := "", 0
	for f, c := range h.FolderCounts {
		if c > bestCount {
			best, bestCount = f, c
		}
	}
	pct = float64(bestCount) / float64(h.Total)
	return best, pct, h.Total >= 5 && pct >= 0.8
}
