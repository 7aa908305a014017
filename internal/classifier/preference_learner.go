package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"triage-agent/internal/config"
	"triage-agent/internal/llmclient"
	"triage-agent/internal/store"
)

const preferenceLearnStateKey = "last_learn_at"
const preferenceBlobStateKey = "classification_preferences"

// learnerToolName names a tool with a single free-text field, forced via the same
// forced-tool-call mechanism the classifier uses, so the preference
// learner shares the transport's retry/backoff behavior.
const learnerToolName = "update_preferences"

type learnerOutput struct {
	Preferences string `json:"preferences"`
}

// PreferenceLearner periodically rewrites the classification_preferences
// blob from recent user corrections, per §4.4's subcomponent.
type PreferenceLearner struct {
	store *store.DB
	llm   *llmclient.Client
}

// NewPreferenceLearner builds a PreferenceLearner over the given store
// and LLM client.
func NewPreferenceLearner(db *store.DB, llm *llmclient.Client) *PreferenceLearner {
	return &PreferenceLearner{store: db, llm: llm}
}

// MaybeLearn runs the learner if enough corrections have accumulated
// since the last learn run; on any failure the existing preference blob
// is left untouched.
func (l *PreferenceLearner) MaybeLearn(ctx context.Context, cfg config.LearningSection) error {
	if !cfg.Enabled {
		return nil
	}

	lastLearnAt, err := l.lastLearnAt()
	if err != nil {
		return fmt.Errorf("read last_learn_at: %w", err)
	}

	count, err := l.store.GetCorrectionCountSince(lastLearnAt)
	if err != nil {
		return fmt.Errorf("count corrections since %s: %w", lastLearnAt, err)
	}
	if count < cfg.MinCorrectionsToUpdate {
		return nil
	}

	corrections, err := l.store.GetRecentCorrections(cfg.LookbackDays)
	if err != nil {
		return fmt.Errorf("load recent corrections: %w", err)
	}

	currentBlob, _, err := l.store.AgentState.GetState(preferenceBlobStateKey)
	if err != nil {
		return fmt.Errorf("read current preference blob: %w", err)
	}

	prompt := buildLearnerPrompt(corrections, currentBlob)
	use, err := l.llm.CallTool(ctx, llmclient.ToolCallRequest{
		Messages: []llmclient.Message{{Role: "user", Content: prompt}},
		Tool: llmclient.Tool{
			Name:        learnerToolName,
			Description: "Propose an updated free-text summary of the user's classification preferences.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"preferences": map[string]any{"type": "string"}},
				"required":   []string{"preferences"},
			},
		},
	})
	if err != nil || use == nil {
		// On any LLM failure the existing blob is preserved unchanged.
		return nil
	}

	var out learnerOutput
	if err := json.Unmarshal(use.Input, &out); err != nil {
		return nil
	}

	truncated := truncateToWords(out.Preferences, cfg.MaxPreferencesWords)
	if err := l.store.AgentState.SetState(preferenceBlobStateKey, truncated); err != nil {
		return fmt.Errorf("write updated preference blob: %w", err)
	}
	return l.store.AgentState.SetState(preferenceLearnStateKey, time.Now().Format(time.RFC3339))
}

func (l *PreferenceLearner) lastLearnAt() (time.Time, error) {
	v, found, err := l.store.AgentState.GetState(preferenceLearnStateKey)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func buildLearnerPrompt(corrections []store.CorrectionCount, currentBlob string) string {
	var b strings.Builder
	b.WriteString("Recent user corrections (suggested vs approved folder):\n")
	for _, c := range corrections {
		fmt.Fprintf(&b, "- suggested %q, approved %q, x%d\n", c.SuggestedFolder, c.ApprovedFolder, c.Count)
	}
	b.WriteString("\nCurrent preference summary:\n")
	if currentBlob == "" {
		b.WriteString("(none yet)\n")
	} else {
		b.WriteString(currentBlob)
		b.WriteString("\n")
	}
	b.WriteString("\nPropose an updated preference summary by calling update_preferences.")
	return b.String()
}

func truncateToWords(s string, maxWords int) string {
	if maxWords <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ")
}
