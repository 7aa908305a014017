// Package llmclient wraps the LLM vendor capability behind a narrow
// tool-call interface. The default client talks to Anthropic's Messages
// API over REST; there is no generated Go SDK for Claude in this module's
// dependency set, so the client speaks raw HTTP/JSON in the same idiom the
// mail fetcher's Graph adapter uses for its own vendor-less REST API.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
const anthropicVersion = "2023-06-01"

// Config holds the Claude API credentials and retry/backoff knobs. Defaults
// mirror the teacher's api.retry_count / api.backoff_factor config keys.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration

	MaxTransportRetries int
	BackoffBase         time.Duration
	BackoffFactor       float64

	// Transport overrides the HTTP transport, mainly for tests that
	// need to redirect requests to a local httptest server.
	Transport http.RoundTripper
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxTransportRetries <= 0 {
		c.MaxTransportRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	return c
}

// Client is a minimal Anthropic Messages API client, forcing a single
// named tool call per request.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout, Transport: cfg.Transport},
	}
}

// Tool describes a tool the model may be forced to call.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCallRequest describes a single forced tool-call invocation.
type ToolCallRequest struct {
	SystemPrompt string
	Messages     []Message
	Tool         Tool
}

// ToolUse is the model's forced tool-call result, with Input still as raw
// JSON so the caller validates it against its own output schema.
type ToolUse struct {
	Name  string
	Input json.RawMessage
}

type anthropicRequest struct {
	Model      string              `json:"model"`
	MaxTokens  int                 `json:"max_tokens"`
	System     string              `json:"system,omitempty"`
	Messages   []Message           `json:"messages"`
	Tools      []Tool              `json:"tools"`
	ToolChoice anthropicToolChoice `json:"tool_choice"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	ID      string                  `json:"id"`
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CallTool invokes the model with a forced tool_choice. Transport-level
// failures (network errors, 429, 5xx) are retried internally with
// exponential backoff plus +/-20% jitter, up to MaxTransportRetries;
// logical output-validation failures are the caller's responsibility to
// retry (see internal/classifier).
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolUse, error) {
	body := anthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    req.SystemPrompt,
		Messages:  req.Messages,
		Tools:     []Tool{req.Tool},
		ToolChoice: anthropicToolChoice{
			Type: "tool",
			Name: req.Tool.Name,
		},
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxTransportRetries+1; attempt++ {
		if attempt > 1 {
			if err := sleepWithJitter(ctx, backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffFactor, attempt-1)); err != nil {
				return nil, err
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		te, ok := asTransportError(err)
		if !ok || !te.Retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("claude transport retries exhausted: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, body anthropicRequest) (*ToolUse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal claude request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build claude request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err, Retryable: true}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{Err: fmt.Errorf("claude rate limited"), StatusCode: resp.StatusCode, Retryable: true}
	case resp.StatusCode >= 500:
		return nil, &TransportError{Err: fmt.Errorf("claude server error %d", resp.StatusCode), StatusCode: resp.StatusCode, Retryable: true}
	case resp.StatusCode >= 400:
		return nil, &TransportError{Err: fmt.Errorf("claude error %d: %s", resp.StatusCode, string(payload)), StatusCode: resp.StatusCode, Retryable: false}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode claude response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("claude error: %s", parsed.Error.Message)
	}

	for _, block := range parsed.Content {
		if block.Type == "tool_use" {
			return &ToolUse{Name: block.Name, Input: block.Input}, nil
		}
	}
	// No tool_use block present is a logical failure, not a transport one:
	// the caller's retry-on-invalid-output loop handles it.
	return nil, nil
}
