package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"triage-agent/internal/config"
	"triage-agent/internal/store"
)

func setupLearnerTestDB(t *testing.T) *store.DB {
	tmpfile, err := os.CreateTemp("", "classifier_test_*.db")
	require.NoError(t, err)
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	db, err := store.Open(tmpfile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedPartialCorrection(t *testing.T, db *store.DB) {
	email := &store.Email{ID: "e1", SenderEmail: "a@acme.com", Subject: "hi", ReceivedAt: time.Now()}
	require.NoError(t, db.Emails.SaveEmail(email, 1000))

	sgID, err := db.Suggestions.CreateSuggestion(&store.Suggestion{
		EmailID: "e1", SuggestedFolder: "Areas/Misc", SuggestedPriority: store.PriorityLow,
		SuggestedActionType: store.ActionFYIOnly, Confidence: 0.5, Method: "claude",
	}, 14)
	require.NoError(t, err)

	approved := "Projects/Alpha"
	ok, err := db.Suggestions.ApproveSuggestion(sgID, &approved, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMaybeLearn_SkipsWhenBelowThreshold(t *testing.T) {
	db := setupLearnerTestDB(t)
	seedPartialCorrection(t, db)

	l := NewPreferenceLearner(db, nil)
	err := l.MaybeLearn(context.Background(), config.LearningSection{
		Enabled: true, MinCorrectionsToUpdate: 5, LookbackDays: 14, MaxPreferencesWords: 100,
	})
	require.NoError(t, err)

	_, found, err := db.AgentState.GetState(preferenceBlobStateKey)
	require.NoError(t, err)
	require.False(t, found, "blob should not be written below the correction threshold")
}

func TestMaybeLearn_UpdatesBlobWhenThresholdMet(t *testing.T) {
	db := setupLearnerTestDB(t)
	seedPartialCorrection(t, db)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		input, _ := json.Marshal(map[string]string{"preferences": "prefer Projects/Alpha for acme.com senders"})
		body, _ := json.Marshal(map[string]any{
			"content": []map[string]any{{"type": "tool_use", "name": learnerToolName, "input": json.RawMessage(input)}},
		})
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	llm := newTestLLMClient(srv.URL)
	l := NewPreferenceLearner(db, llm)
	err := l.MaybeLearn(context.Background(), config.LearningSection{
		Enabled: true, MinCorrectionsToUpdate: 1, LookbackDays: 14, MaxPreferencesWords: 100,
	})
	require.NoError(t, err)

	blob, found, err := db.AgentState.GetState(preferenceBlobStateKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Contains(t, blob, "Projects/Alpha")
}
