package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	tmpfile, err := os.CreateTemp("", "triage_test_*.db")
	require.NoError(t, err)
	tmpfile.Close()

	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	db, err := Open(tmpfile.Name())
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func testEmail(id string) *Email {
	return &Email{
		ID:             id,
		ConversationID: "conv-" + id,
		Subject:        "test subject",
		SenderEmail:    "sender@example.com",
		SenderName:     "Sender",
		ReceivedAt:     time.Now(),
		Snippet:        "hello",
	}
}

func TestSaveEmail_TruncatesSnippet(t *testing.T) {
	db := setupTestDB(t)

	e := testEmail("e1")
	e.Snippet = "0123456789"
	require.NoError(t, db.Emails.SaveEmail(e, 5))

	got, err := db.Emails.GetEmail("e1")
	require.NoError(t, err)
	assert.Equal(t, "01234", got.Snippet)
}

func TestSaveEmail_UpsertByID(t *testing.T) {
	db := setupTestDB(t)

	e := testEmail("e1")
	require.NoError(t, db.Emails.SaveEmail(e, 1000))

	e.Subject = "updated subject"
	require.NoError(t, db.Emails.SaveEmail(e, 1000))

	got, err := db.Emails.GetEmail("e1")
	require.NoError(t, err)
	assert.Equal(t, "updated subject", got.Subject)

	exists, err := db.Emails.EmailExists("e1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.Emails.EmailExists("nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIncrementClassificationAttempts_MarksFailedAtThreshold(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Emails.SaveEmail(testEmail("e1"), 1000))

	var n int
	var err error
	for i := 0; i < MaxClassificationAttempts; i++ {
		n, err = db.Emails.IncrementClassificationAttempts("e1")
		require.NoError(t, err)
	}
	assert.Equal(t, MaxClassificationAttempts, n)

	got, err := db.Emails.GetEmail("e1")
	require.NoError(t, err)
	assert.Equal(t, ClassificationFailed, got.ClassificationStatus)
}

func TestIncrementClassificationAttempts_AbsentRowReturnsZero(t *testing.T) {
	db := setupTestDB(t)
	n, err := db.Emails.IncrementClassificationAttempts("missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestApproveSuggestion_ExactMatchIsApproved(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Emails.SaveEmail(testEmail("e1"), 1000))

	id, err := db.Suggestions.CreateSuggestion(&Suggestion{
		EmailID:             "e1",
		SuggestedFolder:     "Inbox/Work",
		SuggestedPriority:   PriorityImportant,
		SuggestedActionType: ActionReview,
		Confidence:          0.9,
		Method:              "llm",
	}, 14)
	require.NoError(t, err)

	ok, err := db.Suggestions.ApproveSuggestion(id, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	sg, err := db.Suggestions.GetSuggestion(id)
	require.NoError(t, err)
	assert.Equal(t, SuggestionApproved, sg.Status)
	assert.NotNil(t, sg.ResolvedAt)
	require.NotNil(t, sg.ApprovedFolder)
	assert.Equal(t, "Inbox/Work", *sg.ApprovedFolder)
}

func TestApproveSuggestion_CorrectionIsPartial(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Emails.SaveEmail(testEmail("e1"), 1000))

	id, err := db.Suggestions.CreateSuggestion(&Suggestion{
		EmailID:             "e1",
		SuggestedFolder:     "Inbox/Work",
		SuggestedPriority:   PriorityImportant,
		SuggestedActionType: ActionReview,
		Confidence:          0.9,
		Method:              "llm",
	}, 14)
	require.NoError(t, err)

	correctedFolder := "Inbox/Other"
	ok, err := db.Suggestions.ApproveSuggestion(id, &correctedFolder, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	sg, err := db.Suggestions.GetSuggestion(id)
	require.NoError(t, err)
	assert.Equal(t, SuggestionPartial, sg.Status)
}

func TestApproveSuggestion_ConcurrentLoserReturnsFalse(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Emails.SaveEmail(testEmail("e1"), 1000))

	id, err := db.Suggestions.CreateSuggestion(&Suggestion{
		EmailID:             "e1",
		SuggestedFolder:     "Inbox/Work",
		SuggestedPriority:   PriorityImportant,
		SuggestedActionType: ActionReview,
		Confidence:          0.9,
		Method:              "llm",
	}, 14)
	require.NoError(t, err)

	ok, err := db.Suggestions.ApproveSuggestion(id, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.Suggestions.RejectSuggestion(id)
	require.NoError(t, err)
	assert.False(t, ok, "a second resolution attempt must no-op")
}

func TestExpireOldSuggestions(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Emails.SaveEmail(testEmail("e1"), 1000))

	id, err := db.Suggestions.CreateSuggestion(&Suggestion{
		EmailID:             "e1",
		SuggestedFolder:     "Inbox/Work",
		SuggestedPriority:   PriorityImportant,
		SuggestedActionType: ActionReview,
		Confidence:          0.9,
		Method:              "llm",
	}, 14)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE suggestions SET created_at = datetime('now', '-100 days') WHERE id = ?`, id)
	require.NoError(t, err)

	count, err := db.Suggestions.ExpireOldSuggestions(30)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sg, err := db.Suggestions.GetSuggestion(id)
	require.NoError(t, err)
	assert.Equal(t, SuggestionRejected, sg.Status)
}

func TestUpsertSenderProfile_CategoryNeverDowngrades(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.SenderProfiles.UpsertSenderProfile(&SenderProfile{
		SenderEmail: "Boss@Example.com",
		Category:    CategoryKeyContact,
		EmailCount:  1,
	}))

	require.NoError(t, db.SenderProfiles.UpsertSenderProfile(&SenderProfile{
		SenderEmail: "boss@example.com",
		Category:    CategoryUnknown,
		EmailCount:  1,
	}))

	p, err := db.SenderProfiles.GetSenderProfile("boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, CategoryKeyContact, p.Category, "unknown must never downgrade a known category")
	assert.Equal(t, 2, p.EmailCount, "email count must be monotonic non-decreasing")
}

func TestWaitingFor_CreateAndResolve(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Emails.SaveEmail(testEmail("e1"), 1000))

	id, err := db.WaitingFor.CreateWaitingFor(&WaitingFor{
		EmailID:        "e1",
		ConversationID: "conv-e1",
		ExpectedFrom:   "vendor@example.com",
		Description:    "contract signature",
	})
	require.NoError(t, err)

	active, err := db.WaitingFor.GetActiveWaitingFor()
	require.NoError(t, err)
	assert.Len(t, active, 1)

	found, err := db.WaitingFor.CheckWaitingForByConversation("conv-e1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)

	ok, err := db.WaitingFor.ResolveWaitingFor(id, WaitingForReceived)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err = db.WaitingFor.CheckWaitingForByConversation("conv-e1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestAgentState_RoundTrip(t *testing.T) {
	db := setupTestDB(t)

	_, ok, err := db.AgentState.GetState("last_triage_cycle")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.AgentState.SetState("last_triage_cycle", "2026-07-30T00:00:00Z"))
	v, ok, err := db.AgentState.GetState("last_triage_cycle")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-07-30T00:00:00Z", v)

	require.NoError(t, db.AgentState.DeleteState("last_triage_cycle"))
	_, ok, err = db.AgentState.GetState("last_triage_cycle")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetThreadClassification_MostRecentAcrossConversation(t *testing.T) {
	db := setupTestDB(t)

	older := testEmail("e1")
	older.ConversationID = "shared-conv"
	older.ReceivedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.Emails.SaveEmail(older, 1000))

	newer := testEmail("e2")
	newer.ConversationID = "shared-conv"
	newer.ReceivedAt = time.Now()
	require.NoError(t, db.Emails.SaveEmail(newer, 1000))

	id1, err := db.Suggestions.CreateSuggestion(&Suggestion{
		EmailID: "e1", SuggestedFolder: "Projects/Alpha", SuggestedPriority: PriorityImportant,
		SuggestedActionType: ActionReview, Confidence: 0.9, Method: "llm",
	}, 14)
	require.NoError(t, err)
	_, err = db.Suggestions.ApproveSuggestion(id1, nil, nil, nil)
	require.NoError(t, err)

	id2, err := db.Suggestions.CreateSuggestion(&Suggestion{
		EmailID: "e2", SuggestedFolder: "Projects/Beta", SuggestedPriority: PriorityImportant,
		SuggestedActionType: ActionReview, Confidence: 0.9, Method: "llm",
	}, 14)
	require.NoError(t, err)
	_, err = db.Suggestions.ApproveSuggestion(id2, nil, nil, nil)
	require.NoError(t, err)

	folder, _, found, err := db.Emails.GetThreadClassification("shared-conv")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Projects/Beta", folder)
}

func TestPruneLlmLogs(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.LlmLog.LogLlmRequest(LlmLogEntry{
		CorrelationID: "cycle-1", Model: "claude", Request: "{}", Response: "{}", Attempt: 1, Outcome: "ok",
	}))
	_, err := db.Exec(`UPDATE llm_log SET created_at = datetime('now', '-100 days')`)
	require.NoError(t, err)

	n, err := db.LlmLog.PruneLlmLogs(30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSenderHistory_DominantFolder(t *testing.T) {
	h := SenderHistory{Total: 5, FolderCounts: map[string]int{"Projects/Alpha": 4, "Inbox": 1}}
	folder, pct, ok := h.DominantFolder()
	assert.Equal(t, "Projects/Alpha", folder)
	assert.InDelta(t, 0.8, pct, 0.001)
	assert.True(t, ok, "5 total at 80% dominance must meet the strong-pattern threshold")

	weak := SenderHistory{Total: 4, FolderCounts: map[string]int{"Projects/Alpha": 4}}
	_, _, ok = weak.DominantFolder()
	assert.False(t, ok, "fewer than 5 total emails must not count as a strong pattern")
}
