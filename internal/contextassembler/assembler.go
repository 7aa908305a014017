package contextassembler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"triage-agent/internal/config"
	"triage-agent/internal/mailfetch"
	"triage-agent/internal/store"
)

// ThreadMessage is one prior message surfaced for LLM context, newest
// first.
type ThreadMessage struct {
	Subject    string
	Sender     string
	ReceivedAt time.Time
	Snippet    string
	Depth      int
}

// InheritanceConfidence is the fixed confidence assigned whenever a folder
// is inherited from thread history.
const InheritanceConfidence = 0.95

// ClassificationContext is everything the ladder needs beyond the message
// itself.
type ClassificationContext struct {
	InheritedFolder *string
	ThreadContext   []ThreadMessage
	SenderHistory   store.SenderHistory
	SenderProfile   *store.SenderProfile
	HasUserReplied  bool
	MatchedProject  *config.Project
	MatchedArea     *config.Area
}

// maxThreadContext is the number of prior messages surfaced to the LLM.
const maxThreadContext = 3

// SentItemsCache reports whether a conversation id has at least one
// message the user sent, warmed once per triage cycle.
type SentItemsCache interface {
	HasReplied(conversationID string) bool
}

// Assembler builds a ClassificationContext for one incoming message.
type Assembler struct {
	store *store.DB
	mail  mailfetch.MailCapability
}

// New builds an Assembler over the given store and mail capability.
func New(db *store.DB, mail mailfetch.MailCapability) *Assembler {
	return &Assembler{store: db, mail: mail}
}

// Assemble computes the classification context for msg, which must
// already have been persisted via Store.SaveEmail. sentCache is the
// engine's per-cycle has-replied snapshot (never a module-global). cfg
// supplies the Project/Area signal ladder; it may be nil, in which case
// no project/area match is attempted.
func (a *Assembler) Assemble(ctx context.Context, msg *store.Email, sentCache SentItemsCache, cfg *config.TriageConfig) (*ClassificationContext, error) {
	inherited, err := a.resolveInheritance(msg)
	if err != nil {
		return nil, err
	}

	threadCtx, err := a.threadContext(ctx, msg)
	if err != nil {
		return nil, err
	}

	hist, err := a.store.SenderProfiles.GetSenderHistory(msg.SenderEmail)
	if err != nil {
		return nil, err
	}

	profile, err := a.store.SenderProfiles.GetSenderProfile(msg.SenderEmail)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		profile = nil
	}

	hasReplied := false
	if sentCache != nil {
		hasReplied = sentCache.HasReplied(msg.ConversationID)
	}

	project, area := matchProjectAndArea(cfg, msg)

	return &ClassificationContext{
		InheritedFolder: inherited,
		ThreadContext:   threadCtx,
		SenderHistory:   hist,
		SenderProfile:   profile,
		HasUserReplied:  hasReplied,
		MatchedProject:  project,
		MatchedArea:     area,
	}, nil
}

// matchProjectAndArea runs the configured Signals ladder against msg,
// first-match-wins within each list, Projects taking precedence for the
// project slot and Areas for the area slot independently (a message can
// carry both a project and an area association).
func matchProjectAndArea(cfg *config.TriageConfig, msg *store.Email) (*config.Project, *config.Area) {
	if cfg == nil {
		return nil, nil
	}
	var project *config.Project
	for i, p := range cfg.Projects {
		if p.Signals.Matches(msg.SenderEmail, msg.Subject, msg.Snippet) {
			project = &cfg.Projects[i]
			break
		}
	}
	var area *config.Area
	for i, ar := range cfg.Areas {
		if ar.Signals.Matches(msg.SenderEmail, msg.Subject, msg.Snippet) {
			area = &cfg.Areas[i]
			break
		}
	}
	return project, area
}

// resolveInheritance implements §4.3's inheritance rule: inherit only when
// both the normalized subject and the sender domain match something
// already seen in the thread.
func (a *Assembler) resolveInheritance(msg *store.Email) (*string, error) {
	folder, _, found, err := a.store.Emails.GetThreadClassification(msg.ConversationID)
	if err != nil || !found {
		return nil, err
	}

	priorEmails, err := a.store.Emails.GetThreadEmails(msg.ConversationID, msg.ID, 50)
	if err != nil {
		return nil, err
	}

	normalizedSubject := NormalizeSubject(msg.Subject)
	senderDomain := SenderDomain(msg.SenderEmail)

	subjectMatches, domainMatches := false, false
	for _, prior := range priorEmails {
		if NormalizeSubject(prior.Subject) == normalizedSubject {
			subjectMatches = true
		}
		if SenderDomain(prior.SenderEmail) == senderDomain {
			domainMatches = true
		}
	}

	if subjectMatches && domainMatches {
		f := folder
		return &f, nil
	}
	return nil, nil
}

// threadContext returns up to maxThreadContext prior messages, newest
// first, preferring the Store and topping up from the mail capability
// when the Store doesn't yet have enough.
func (a *Assembler) threadContext(ctx context.Context, msg *store.Email) ([]ThreadMessage, error) {
	prior, err := a.store.Emails.GetThreadEmails(msg.ConversationID, msg.ID, maxThreadContext)
	if err != nil {
		return nil, err
	}

	out := make([]ThreadMessage, 0, maxThreadContext)
	seen := map[string]bool{msg.ID: true}
	for _, e := range prior {
		out = append(out, ThreadMessage{
			Subject: e.Subject, Sender: e.SenderEmail, ReceivedAt: e.ReceivedAt,
			Snippet: e.Snippet, Depth: DepthFromIndex(e.ConversationIndex),
		})
		seen[e.ID] = true
	}

	if len(out) >= maxThreadContext || a.mail == nil {
		return out, nil
	}

	topUp, err := a.mail.GetThreadMessages(ctx, msg.ConversationID, maxThreadContext-len(out)+len(seen))
	if err != nil {
		return out, nil // a mail capability hiccup here must not fail classification
	}
	for _, m := range topUp {
		if seen[m.ID] || len(out) >= maxThreadContext {
			continue
		}
		out = append(out, ThreadMessage{
			Subject: m.Subject, Sender: m.FromAddress, ReceivedAt: m.ReceivedAt,
			Snippet: m.BodyPreview, Depth: DepthFromIndex(m.ConversationIndex),
		})
		seen[m.ID] = true
	}
	return out, nil
}
