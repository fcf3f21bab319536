package api

import (
	"fmt"
	"strings"
)

// Dialect selects the wire format used when talking to a provider.
// It is decided once per request from the provider settings and never
// sniffed from response bytes.
type Dialect int

const (
	// DialectAnthropic is the Anthropic Messages API: /v1/messages,
	// x-api-key auth, content_block_delta streaming frames.
	DialectAnthropic Dialect = iota
	// DialectOpenAI is the OpenAI-compatible chat completions API:
	// /v1/chat/completions, bearer auth, choices[].delta frames.
	DialectOpenAI
)

func (d Dialect) String() string {
	if d == DialectAnthropic {
		return "anthropic"
	}
	return "openai"
}

// Message is a single conversation entry sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is a cumulative token snapshot for one turn. Providers report
// totals, not increments, so later snapshots replace earlier ones.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Settings carries everything needed to reach one provider for one turn.
// Zero-value fields fall back to daemon-level credentials before a
// request is built.
type Settings struct {
	APIKey    string
	BaseURL   string
	Model     string
	System    string
	MaxTokens int
	Stream    bool
}

// DetectDialect picks the wire dialect for a provider. Claude models and
// Anthropic-looking base URLs speak the Messages API; everything else is
// treated as OpenAI-compatible, which is what most gateways expose.
func DetectDialect(baseURL, model string) Dialect {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return DialectAnthropic
	}
	if strings.Contains(strings.ToLower(baseURL), "anthropic") {
		return DialectAnthropic
	}
	return DialectOpenAI
}

// APIError is a non-2xx response from the provider, with whatever the
// provider said about it.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}
