// Package classifier implements the classification ladder: auto-rule
// matching, thread-inheritance carry-through, and forced-tool-call LLM
// classification with logical-failure retry.
package classifier

import (
	"context"
	"fmt"

	"triage-agent/internal/config"
	"triage-agent/internal/contextassembler"
	"triage-agent/internal/errs"
	"triage-agent/internal/llmclient"
	"triage-agent/internal/store"
)

// maxLogicalAttempts bounds the classifier's own retry loop for
// malformed/invalid tool output within a single Classify call. This is
// distinct from store.MaxClassificationAttempts, which counts attempts
// across triage cycles on the persisted Email row.
const maxLogicalAttempts = 3

var allPriorities = []string{
	string(store.PriorityUrgentImportant), string(store.PriorityImportant),
	string(store.PriorityUrgentLow), string(store.PriorityLow),
}

var allActionTypes = []string{
	string(store.ActionNeedsReply), string(store.ActionReview), string(store.ActionDelegated),
	string(store.ActionFYIOnly), string(store.ActionWaitingFor), string(store.ActionScheduled),
}

// Result is one ladder outcome ready to become a Suggestion.
type Result struct {
	Folder              string
	Priority             store.Priority
	ActionType           store.ActionType
	Confidence           float64
	Reasoning            string
	Method               string
	InheritedFolder      bool
	WaitingForDetail     *llmclient.WaitingForDetail
	SuggestedNewProject  string
}

// Classifier wires an LLM client to the configured auto-rules and
// enumerations.
type Classifier struct {
	llm *llmclient.Client
}

// New builds a Classifier over an already-configured LLM client.
func New(llm *llmclient.Client) *Classifier {
	return &Classifier{llm: llm}
}

// Classify runs the full ladder for one message. systemPrompt is the
// cycle-scoped prompt built once via BuildSystemPrompt.
func (c *Classifier) Classify(ctx context.Context, msg *store.Email, cfg *config.TriageConfig, clsCtx *contextassembler.ClassificationContext, systemPrompt string) (*Result, error) {
	if match, ok := MatchAutoRule(cfg.AutoRules, msg.SenderEmail, msg.Subject); ok {
		return &Result{
			Folder:     match.Rule.Folder,
			Priority:   store.Priority(match.Rule.Priority),
			ActionType: store.ActionType(match.Rule.ActionType),
			Confidence: 1.0,
			Reasoning:  match.Reasoning,
			Method:     "auto_rule",
		}, nil
	}

	userPrompt := BuildUserPrompt(msg, clsCtx)

	var lastErr error
	for attempt := 1; attempt <= maxLogicalAttempts; attempt++ {
		out, err := c.llm.ClassifyEmail(ctx, llmclient.ClassifyRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			Priorities:   allPriorities,
			ActionTypes:  allActionTypes,
		})
		if err != nil {
			// Transport-level failure: the client already retried
			// 429/5xx internally. A non-retryable transport error (4xx,
			// connection) is not retried again at this level either.
			return nil, &errs.ClassificationError{EmailID: msg.ID, Attempts: attempt, Err: fmt.Errorf("llm transport: %w", err)}
		}

		result, validErr := validate(out)
		if validErr != nil {
			lastErr = validErr
			continue
		}

		r := &Result{
			Folder:              result.Folder,
			Priority:            store.Priority(result.Priority),
			ActionType:          store.ActionType(result.ActionType),
			Confidence:          result.Confidence,
			Reasoning:           result.Reasoning,
			Method:              "claude",
			WaitingForDetail:    result.WaitingForDetail,
			SuggestedNewProject: result.SuggestedNewProject,
		}
		if clsCtx != nil && clsCtx.InheritedFolder != nil {
			r.Folder = *clsCtx.InheritedFolder
			r.Method = "claude_inherited"
			r.Confidence = contextassembler.InheritanceConfidence
			r.InheritedFolder = true
		}
		return r, nil
	}

	return nil, &errs.ClassificationError{EmailID: msg.ID, Attempts: maxLogicalAttempts, Err: lastErr}
}

// validate enforces §4.4's required-field and enum-membership rules.
func validate(out *llmclient.ClassifyResult) (*llmclient.ClassifyResult, error) {
	if out == nil {
		return nil, fmt.Errorf("no tool call in classifier response")
	}
	if out.Folder == "" {
		return nil, fmt.Errorf("classifier response missing folder")
	}
	if !store.ValidPriorities[store.Priority(out.Priority)] {
		return nil, fmt.Errorf("classifier response has invalid priority %q", out.Priority)
	}
	if !store.ValidActionTypes[store.ActionType(out.ActionType)] {
		return nil, fmt.Errorf("classifier response has invalid action_type %q", out.ActionType)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("classifier response confidence %f out of range", out.Confidence)
	}
	if out.Reasoning == "" {
		return nil, fmt.Errorf("classifier response missing reasoning")
	}
	return out, nil
}
