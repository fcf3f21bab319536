package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL      = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

// Client speaks both provider dialects over plain HTTP. It holds no
// per-conversation state; conversations live in Conversation.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client suitable for long-lived streaming responses.
// The overall request has no deadline (streams can run for minutes);
// connection setup does.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// send issues one chat request and returns the raw response with its body
// still open. Callers own the body. A non-2xx status is consumed here and
// returned as *APIError.
func (c *Client) send(ctx context.Context, settings Settings, messages []Message) (*http.Response, error) {
	dialect := DetectDialect(settings.BaseURL, settings.Model)

	body, err := buildRequestBody(dialect, settings, messages)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(dialect, settings.BaseURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	applyHeaders(req, dialect, settings.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, parseErrorResponse(resp)
	}
	return resp, nil
}

func endpoint(d Dialect, baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if d == DialectAnthropic {
		return base + "/v1/messages"
	}
	return base + "/v1/chat/completions"
}

func applyHeaders(req *http.Request, d Dialect, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	if d == DialectAnthropic {
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func buildRequestBody(d Dialect, settings Settings, messages []Message) ([]byte, error) {
	maxTokens := settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if d == DialectAnthropic {
		payload := map[string]interface{}{
			"model":      settings.Model,
			"max_tokens": maxTokens,
			"messages":   messages,
			"stream":     settings.Stream,
		}
		if settings.System != "" {
			payload["system"] = settings.System
		}
		return json.Marshal(payload)
	}

	// OpenAI-compatible providers take the system prompt as a leading
	// message instead of a top-level field.
	outbound := messages
	if settings.System != "" {
		outbound = append([]Message{{Role: "system", Content: settings.System}}, messages...)
	}
	payload := map[string]interface{}{
		"model":    settings.Model,
		"messages": outbound,
		"stream":   settings.Stream,
	}
	if settings.Stream {
		payload["stream_options"] = map[string]interface{}{"include_usage": true}
	}
	return json.Marshal(payload)
}

// parseErrorResponse turns a failed response into an *APIError, keeping
// whatever detail the provider put in the body. Bodies are capped so a
// misbehaving gateway cannot feed us gigabytes of HTML.
func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{Status: resp.StatusCode, Type: envelope.Error.Type, Message: envelope.Error.Message}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// parseFullResponse handles the non-streaming case: one buffered JSON
// document holding the complete assistant message.
func parseFullResponse(d Dialect, raw []byte) (string, Usage, error) {
	if d == DialectAnthropic {
		var body struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			Usage Usage `json:"usage"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", Usage{}, fmt.Errorf("decoding response: %w", err)
		}
		var text strings.Builder
		for _, block := range body.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), body.Usage, nil
	}

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", Usage{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("response carried no choices")
	}
	usage := Usage{InputTokens: body.Usage.PromptTokens, OutputTokens: body.Usage.CompletionTokens}
	return body.Choices[0].Message.Content, usage, nil
}
