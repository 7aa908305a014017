// Package mailfetchtest provides an in-memory MailCapability for engine and
// classifier tests, so they never make network calls.
package mailfetchtest

import (
	"context"
	"sort"
	"time"

	"triage-agent/internal/errs"
	"triage-agent/internal/mailfetch"
)

// Fake is an in-memory mailfetch.MailCapability.
type Fake struct {
	Folders    map[string][]mailfetch.Message // folder path -> messages
	FolderIDs  map[string]string              // folder path -> id
	SentItems  []mailfetch.Message
	Categories map[string][]string // message id -> categories

	// ExpireCursor, when set, makes every GetDeltaMessages call for
	// that exact cursor return a delta_token_expired error.
	ExpireCursor string
}

// NewFake returns an empty fake ready for test setup.
func NewFake() *Fake {
	return &Fake{
		Folders:    map[string][]mailfetch.Message{},
		FolderIDs:  map[string]string{},
		Categories: map[string][]string{},
	}
}

// SeedFolder registers messages as already present in folder, assigning it
// a deterministic folder id if it doesn't have one yet.
func (f *Fake) SeedFolder(folder string, msgs ...mailfetch.Message) {
	if _, ok := f.FolderIDs[folder]; !ok {
		f.FolderIDs[folder] = "folder:" + folder
	}
	f.Folders[folder] = append(f.Folders[folder], msgs...)
}

func (f *Fake) GetDeltaMessages(ctx context.Context, folder, cursor string) (mailfetch.DeltaResult, error) {
	if cursor != "" && cursor == f.ExpireCursor {
		return mailfetch.DeltaResult{}, errs.NewMailAPIError("GetDeltaMessages", errs.MailSubkindDeltaTokenExpired, context.DeadlineExceeded)
	}
	msgs := append([]mailfetch.Message(nil), f.Folders[folder]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt) })
	return mailfetch.DeltaResult{Messages: msgs, NewCursor: "cursor:" + folder + ":1"}, nil
}

func (f *Fake) ListMessages(ctx context.Context, folder string, since time.Time) ([]mailfetch.Message, error) {
	var out []mailfetch.Message
	for _, m := range f.Folders[folder] {
		if !m.ReceivedAt.Before(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (f *Fake) GetThreadMessages(ctx context.Context, conversationID string, limit int) ([]mailfetch.Message, error) {
	var out []mailfetch.Message
	for _, msgs := range f.Folders {
		for _, m := range msgs {
			if m.ConversationID == conversationID {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) MoveMessage(ctx context.Context, messageID, destFolderID string) error {
	for folder, msgs := range f.Folders {
		for i, m := range msgs {
			if m.ID == messageID {
				if f.FolderIDs[folder] == destFolderID {
					return nil
				}
				f.Folders[folder] = append(msgs[:i], msgs[i+1:]...)
				for destFolder, id := range f.FolderIDs {
					if id == destFolderID {
						f.Folders[destFolder] = append(f.Folders[destFolder], m)
						return nil
					}
				}
				return nil
			}
		}
	}
	return nil
}

func (f *Fake) SetCategories(ctx context.Context, messageID string, categories []string) error {
	f.Categories[messageID] = append([]string(nil), categories...)
	return nil
}

func (f *Fake) AddCategories(ctx context.Context, messageID string, categories []string) error {
	existing := map[string]bool{}
	for _, c := range f.Categories[messageID] {
		existing[c] = true
	}
	for _, c := range categories {
		existing[c] = true
	}
	merged := make([]string, 0, len(existing))
	for c := range existing {
		merged = append(merged, c)
	}
	f.Categories[messageID] = merged
	return nil
}

func (f *Fake) GetFolderByPath(ctx context.Context, path string, create bool) (string, error) {
	if id, ok := f.FolderIDs[path]; ok {
		return id, nil
	}
	if !create {
		return "", errs.NewMailAPIError("GetFolderByPath", errs.MailSubkindTransient, context.DeadlineExceeded)
	}
	id := "folder:" + path
	f.FolderIDs[path] = id
	return id, nil
}

func (f *Fake) ListSentItems(ctx context.Context, since time.Time) ([]mailfetch.Message, error) {
	var out []mailfetch.Message
	for _, m := range f.SentItems {
		if !m.ReceivedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

var _ mailfetch.MailCapability = (*Fake)(nil)
