package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage-agent/internal/config"
	"triage-agent/internal/contextassembler"
	"triage-agent/internal/errs"
	"triage-agent/internal/llmclient"
	"triage-agent/internal/store"
)

type rewriteTransport struct{ base string }

func (r rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := http.NewRequest(req.Method, r.base+req.URL.Path, req.Body)
	if err != nil {
		return nil, err
	}
	target.Header = req.Header
	return http.DefaultTransport.RoundTrip(target)
}

func newTestLLMClient(srvURL string) *llmclient.Client {
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

func TestClassify_AutoRuleShortCircuitsLLM(t *testing.T) {
	cfg := &config.TriageConfig{
		AutoRules: []config.AutoRule{
			{Name: "boss", SenderPatterns: []string{"boss@acme.com"}, Folder: "Projects/Alpha", Priority: string(store.PriorityImportant), ActionType: string(store.ActionReview)},
		},
	}
	c := New(nil)
	msg := &store.Email{ID: "e1", SenderEmail: "boss@acme.com", Subject: "hi"}

	result, err := c.Classify(context.Background(), msg, cfg, nil, "system")
	require.NoError(t, err)
	assert.Equal(t, "auto_rule", result.Method)
	assert.Equal(t, "Projects/Alpha", result.Folder)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestClassify_LLMSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(toolUseResponse("classify_email", map[string]any{
			"folder": "Projects/Alpha", "priority": string(store.PriorityImportant),
			"action_type": string(store.ActionReview), "confidence": 0.8, "reasoning": "looks important",
		})))
	}))
	defer srv.Close()

	c := New(newTestLLMClient(srv.URL))
	cfg := &config.TriageConfig{}
	msg := &store.Email{ID: "e2", SenderEmail: "someone@acme.com", Subject: "project update"}

	result, err := c.Classify(context.Background(), msg, cfg, nil, "system")
	require.NoError(t, err)
	assert.Equal(t, "claude", result.Method)
	assert.Equal(t, "Projects/Alpha", result.Folder)
}

func TestClassify_InheritedFolderOverridesLLMFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(toolUseResponse("classify_email", map[string]any{
			"folder": "Areas/Somewhere", "priority": string(store.PriorityImportant),
			"action_type": string(store.ActionReview), "confidence": 0.8, "reasoning": "ok",
		})))
	}))
	defer srv.Close()

	c := New(newTestLLMClient(srv.URL))
	cfg := &config.TriageConfig{}
	msg := &store.Email{ID: "e3", SenderEmail: "someone@acme.com", Subject: "re: kickoff"}
	inherited := "Projects/Alpha"
	clsCtx := &contextassembler.ClassificationContext{InheritedFolder: &inherited}

	result, err := c.Classify(context.Background(), msg, cfg, clsCtx, "system")
	require.NoError(t, err)
	assert.Equal(t, "claude_inherited", result.Method)
	assert.Equal(t, "Projects/Alpha", result.Folder)
	assert.Equal(t, contextassembler.InheritanceConfidence, result.Confidence)
}

func TestClassify_RetriesOnInvalidOutputThenRaisesClassificationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(toolUseResponse("classify_email", map[string]any{
			"folder": "", "priority": string(store.PriorityImportant),
			"action_type": string(store.ActionReview), "confidence": 0.8, "reasoning": "ok",
		})))
	}))
	defer srv.Close()

	c := New(newTestLLMClient(srv.URL))
	cfg := &config.TriageConfig{}
	msg := &store.Email{ID: "e4", SenderEmail: "someone@acme.com", Subject: "hi"}

	_, err := c.Classify(context.Background(), msg, cfg, nil, "system")
	require.Error(t, err)
	var clsErr *errs.ClassificationError
	require.ErrorAs(t, err, &clsErr)
	assert.Equal(t, "e4", clsErr.EmailID)
	assert.Equal(t, maxLogicalAttempts, clsErr.Attempts)
}
