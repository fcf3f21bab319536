package claude

import (
	"encoding/json"
	"os/exec"
)

// StreamMessage represents one NDJSON line from Claude's streaming output
type StreamMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   struct {
		Content []ContentBlock `json:"content"`
		Model   string         `json:"model,omitempty"`
		Usage   *UsageInfo     `json:"usage,omitempty"`
	} `json:"message,omitempty"`

	// Partial-message frames wrap a raw API stream event
	Event *RawStreamEvent `json:"event,omitempty"`

	// Permission prompts arriving over the stdio control channel
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlPayload `json:"request,omitempty"`

	// Top-level fields for "result" messages
	Result        string     `json:"result,omitempty"`
	IsError       bool       `json:"is_error,omitempty"`
	TopLevelUsage *UsageInfo `json:"usage,omitempty"`
	TotalCostUSD  float64    `json:"total_cost_usd,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
}

// ContentBlock is one entry in an assistant or user message
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ID        string          `json:"id,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"` // tool_result: the tool_use block this answers
	Content   json.RawMessage `json:"content,omitempty"`     // tool_result payload: string or block list
}

// RawStreamEvent is the API-level event carried inside a stream_event
// frame when the CLI runs with --include-partial-messages
type RawStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
}

// ControlPayload is the body of a control_request frame
type ControlPayload struct {
	Subtype   string                 `json:"subtype"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
}

// UsageInfo represents token usage for one run
type UsageInfo struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// IsInstalled checks if the Claude CLI is available on PATH
func IsInstalled() bool {
	_, err := exec.LookPath("claude")
	return err == nil
}
