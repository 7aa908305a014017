package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
)

const classifyToolName = "classify_email"

// classifyEmailSchema is the JSON schema forced on the model via
// tool_choice. Priority and ActionType enums are passed in at call time
// so the tool description always matches the caller's current config.
func classifyEmailSchema(priorities, actionTypes []string) any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"folder":      map[string]any{"type": "string"},
			"priority":    map[string]any{"type": "string", "enum": priorities},
			"action_type": map[string]any{"type": "string", "enum": actionTypes},
			"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":   map[string]any{"type": "string"},
			"waiting_for_detail": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expected_from": map[string]any{"type": "string"},
					"description":   map[string]any{"type": "string"},
				},
			},
			"suggested_new_project": map[string]any{"type": "string"},
		},
		"required": []string{"folder", "priority", "action_type", "confidence", "reasoning"},
	}
}

// ClassifyRequest is one forced classify_email invocation.
type ClassifyRequest struct {
	SystemPrompt string
	UserPrompt   string
	Priorities   []string
	ActionTypes  []string
}

// WaitingForDetail is the optional waiting-for payload a classification
// may carry.
type WaitingForDetail struct {
	ExpectedFrom string `json:"expected_from"`
	Description  string `json:"description"`
}

// ClassifyResult is the raw, not-yet-validated tool call output. Field
// presence/range validation against the allowed enums is the caller's
// (internal/classifier's) responsibility, per spec.md's split between
// transport-level and logical-failure retry.
type ClassifyResult struct {
	Folder              string            `json:"folder"`
	Priority             string            `json:"priority"`
	ActionType           string            `json:"action_type"`
	Confidence           float64           `json:"confidence"`
	Reasoning            string            `json:"reasoning"`
	WaitingForDetail     *WaitingForDetail `json:"waiting_for_detail,omitempty"`
	SuggestedNewProject  string            `json:"suggested_new_project,omitempty"`
}

// ClassifyEmail forces a single classify_email tool call and decodes its
// input. A nil result with a nil error means the model replied without
// calling the tool at all, or called it with input that does not decode
// -- a logical failure for the caller to retry.
func (c *Client) ClassifyEmail(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	use, err := c.CallTool(ctx, ToolCallRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     []Message{{Role: "user", Content: req.UserPrompt}},
		Tool: Tool{
			Name:        classifyToolName,
			Description: "Classify an email into a PARA folder, priority, and action type.",
			InputSchema: classifyEmailSchema(req.Priorities, req.ActionTypes),
		},
	})
	if err != nil {
		return nil, err
	}
	if use == nil {
		return nil, nil
	}
	if use.Name != classifyToolName {
		return nil, fmt.Errorf("claude invoked unexpected tool %q", use.Name)
	}

	var result ClassifyResult
	if err := json.Unmarshal(use.Input, &result); err != nil {
		// Malformed tool input is a logical failure, not a transport one.
		return nil, nil
	}
	return &result, nil
}
