package contextassembler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage-agent/internal/config"
	"triage-agent/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	tmpfile, err := os.CreateTemp("", "contextassembler_test_*.db")
	require.NoError(t, err)
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	db, err := store.Open(tmpfile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type alwaysRepliedCache struct{ replied bool }

func (c alwaysRepliedCache) HasReplied(string) bool { return c.replied }

func TestAssemble_InheritsWhenSubjectAndDomainMatch(t *testing.T) {
	db := setupTestDB(t)
	a := New(db, nil)

	prior := &store.Email{
		ID: "e1", ConversationID: "conv-1", Subject: "Kickoff",
		SenderEmail: "alice@acme.com", ReceivedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Emails.SaveEmail(prior, 1000))
	sgID, err := db.Suggestions.CreateSuggestion(&store.Suggestion{
		EmailID: "e1", SuggestedFolder: "Projects/Alpha", SuggestedPriority: store.PriorityImportant,
		SuggestedActionType: store.ActionReview, Confidence: 0.9, Method: "llm",
	}, 14)
	require.NoError(t, err)
	ok, err := db.Suggestions.ApproveSuggestion(sgID, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	newMsg := &store.Email{
		ID: "e2", ConversationID: "conv-1", Subject: "Re: kickoff",
		SenderEmail: "bob@acme.com", ReceivedAt: time.Now(),
	}
	require.NoError(t, db.Emails.SaveEmail(newMsg, 1000))

	ctxResult, err := a.Assemble(context.Background(), newMsg, alwaysRepliedCache{replied: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, ctxResult.InheritedFolder)
	require.Equal(t, "Projects/Alpha", *ctxResult.InheritedFolder)
	require.True(t, ctxResult.HasUserReplied)
}

func TestAssemble_DoesNotInheritOnDomainMismatch(t *testing.T) {
	db := setupTestDB(t)
	a := New(db, nil)

	prior := &store.Email{
		ID: "e1", ConversationID: "conv-1", Subject: "Kickoff",
		SenderEmail: "alice@acme.com", ReceivedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Emails.SaveEmail(prior, 1000))
	sgID, err := db.Suggestions.CreateSuggestion(&store.Suggestion{
		EmailID: "e1", SuggestedFolder: "Projects/Alpha", SuggestedPriority: store.PriorityImportant,
		SuggestedActionType: store.ActionReview, Confidence: 0.9, Method: "llm",
	}, 14)
	require.NoError(t, err)
	_, err = db.Suggestions.ApproveSuggestion(sgID, nil, nil, nil)
	require.NoError(t, err)

	newMsg := &store.Email{
		ID: "e2", ConversationID: "conv-1", Subject: "Re: kickoff",
		SenderEmail: "stranger@other.com", ReceivedAt: time.Now(),
	}
	require.NoError(t, db.Emails.SaveEmail(newMsg, 1000))

	ctxResult, err := a.Assemble(context.Background(), newMsg, nil, nil)
	require.NoError(t, err)
	require.Nil(t, ctxResult.InheritedFolder, "a different sender domain must not inherit the thread folder")
}

func TestAssemble_MatchesProjectAndAreaBySignals(t *testing.T) {
	db := setupTestDB(t)
	a := New(db, nil)

	cfg := &config.TriageConfig{
		Projects: []config.Project{
			{Name: "Launch", FolderPath: "Projects/Launch", Signals: config.Signals{SubjectKeywords: []string{"launch"}}},
		},
		Areas: []config.Area{
			{Name: "Finance", FolderPath: "Areas/Finance", Signals: config.Signals{SenderPatterns: []string{"*@billing.example.com"}}},
		},
	}

	msg := &store.Email{
		ID: "e1", ConversationID: "conv-9", Subject: "Launch week planning",
		SenderEmail: "ap@billing.example.com", ReceivedAt: time.Now(),
	}
	require.NoError(t, db.Emails.SaveEmail(msg, 1000))

	ctxResult, err := a.Assemble(context.Background(), msg, nil, cfg)
	require.NoError(t, err)
	require.NotNil(t, ctxResult.MatchedProject)
	assert.Equal(t, "Launch", ctxResult.MatchedProject.Name)
	require.NotNil(t, ctxResult.MatchedArea)
	assert.Equal(t, "Finance", ctxResult.MatchedArea.Name)
}

func TestAssemble_NilConfigLeavesMatchesUnset(t *testing.T) {
	db := setupTestDB(t)
	a := New(db, nil)

	msg := &store.Email{ID: "e1", ConversationID: "conv-9", Subject: "hi", SenderEmail: "a@acme.com", ReceivedAt: time.Now()}
	require.NoError(t, db.Emails.SaveEmail(msg, 1000))

	ctxResult, err := a.Assemble(context.Background(), msg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ctxResult.MatchedProject)
	assert.Nil(t, ctxResult.MatchedArea)
}
