package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"triage-agent/internal/config"
	"triage-agent/internal/llmclient"
	"triage-agent/internal/mailfetch"
	"triage-agent/internal/store"
)

func setupEngineTestDB(t *testing.T) *store.DB {
	tmpfile, err := os.CreateTemp("", "engine_test_*.db")
	require.NoError(t, err)
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	db, err := store.Open(tmpfile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testWatcher(folders ...string) *config.Watcher {
	if len(folders) == 0 {
		folders = []string{"Inbox"}
	}
	return config.NewWatcher(&config.TriageConfig{
		Triage: config.TriageSection{
			IntervalMinutes: 60,
			LookbackHours:   24,
			BatchSize:       50,
			WatchFolders:    folders,
		},
		Snippet: config.SnippetSection{MaxLength: 500},
		Aging:   config.AgingSection{WaitingForNudgeHours: 72},
		SuggestionQueue: config.SuggestionQueueSection{ExpireAfterDays: 14},
	})
}

// rewriteTransport redirects every outbound request to a local test
// server, the same fixture the classifier package's own tests use to
// stand in for the Claude API.
type rewriteTransport struct{ base string }

func (r rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := http.NewRequest(req.Method, r.base+req.URL.Path, req.Body)
	if err != nil {
		return nil, err
	}
	target.Header = req.Header
	return http.DefaultTransport.RoundTrip(target)
}

func testLLMClient(srvURL string) *llmclient.Client {
	return llmclient.New(llmclient.Config{
		APIKey: "test", Model: "claude-test", BackoffBase: time.Millisecond,
		Transport: rewriteTransport{base: srvURL},
	})
}

func toolUseResponse(name string, input any) string {
	raw, _ := json.Marshal(input)
	body, _ := json.Marshal(map[string]any{
		"content": []map[string]any{
			{"type": "tool_use", "name": name, "input": json.RawMessage(raw)},
		},
	})
	return string(body)
}

func errorResponse(status int) (int, string) {
	body, _ := json.Marshal(map[string]any{"error": map[string]any{"type": "overloaded_error", "message": "down"}})
	return status, string(body)
}

func seedMessage(id, folder, sender, subject string, receivedAt time.Time) mailfetch.Message {
	return mailfetch.Message{
		ID:             id,
		ConversationID: "conv-" + id,
		Subject:        subject,
		FromAddress:    sender,
		FromName:       sender,
		ReceivedAt:     receivedAt,
		BodyPreview:    "body of " + subject,
		ParentFolderID: folder,
	}
}
