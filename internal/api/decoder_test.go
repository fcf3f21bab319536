package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anthropicStream = `data: {"type":"message_start","message":{"usage":{"input_tokens":12,"output_tokens":1}}}

data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}

data: {"type":"content_block_delta","delta":{"type":"text_delta","text":", world"}}

data: {"type":"message_delta","usage":{"input_tokens":12,"output_tokens":9}}

data: {"type":"message_stop"}

`

func collectText(events []Event) string {
	var out string
	for _, ev := range events {
		if ev.Kind == EventText {
			out += ev.Text
		}
	}
	return out
}

func lastUsage(events []Event) (Usage, bool) {
	var usage Usage
	found := false
	for _, ev := range events {
		if ev.Kind == EventUsage {
			usage = ev.Usage
			found = true
		}
	}
	return usage, found
}

func TestDecoderAnthropicStream(t *testing.T) {
	d := NewDecoder(DialectAnthropic)
	events := d.Feed([]byte(anthropicStream))

	assert.Equal(t, "Hello, world", collectText(events))

	usage, ok := lastUsage(events)
	require.True(t, ok)
	assert.Equal(t, 12, usage.InputTokens)
	assert.Equal(t, 9, usage.OutputTokens)

	assert.Equal(t, EventDone, events[len(events)-1].Kind)
}

// Chunk boundaries are a transport artifact. However the bytes are
// sliced, the decoded event sequence must be identical.
func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	whole := NewDecoder(DialectAnthropic).Feed([]byte(anthropicStream))

	for _, size := range []int{1, 2, 3, 7, 16, 64} {
		d := NewDecoder(DialectAnthropic)
		var events []Event
		data := []byte(anthropicStream)
		for start := 0; start < len(data); start += size {
			end := start + size
			if end > len(data) {
				end = len(data)
			}
			events = append(events, d.Feed(data[start:end])...)
		}
		events = append(events, d.Close()...)
		assert.Equal(t, whole, events, "chunk size %d", size)
	}
}

func TestDecoderSkipsMalformedFrames(t *testing.T) {
	d := NewDecoder(DialectAnthropic)
	stream := "data: {not json at all\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}` + "\n" +
		"garbage line without prefix\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" still ok"}}` + "\n"

	events := d.Feed([]byte(stream))
	assert.Equal(t, "ok still ok", collectText(events))
	assert.Len(t, events, 2)
}

func TestDecoderOpenAIStream(t *testing.T) {
	d := NewDecoder(DialectOpenAI)
	stream := `data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n" +
		`data: {"choices":[{"delta":{"content":" there"}}]}` + "\n" +
		`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2}}` + "\n" +
		"data: [DONE]\n"

	events := d.Feed([]byte(stream))
	assert.Equal(t, "Hi there", collectText(events))

	usage, ok := lastUsage(events)
	require.True(t, ok)
	assert.Equal(t, 5, usage.InputTokens)
	assert.Equal(t, 2, usage.OutputTokens)

	assert.Equal(t, EventDone, events[len(events)-1].Kind)
}

func TestDecoderIgnoresNullKeepalives(t *testing.T) {
	d := NewDecoder(DialectOpenAI)
	events := d.Feed([]byte("data: null\ndata: null\ndata: [DONE]\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Kind)
}

// Usage snapshots are cumulative totals; a later snapshot replaces the
// earlier one rather than adding to it.
func TestDecoderUsageSnapshotsReplace(t *testing.T) {
	d := NewDecoder(DialectAnthropic)
	stream := `data: {"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":1}}}` + "\n" +
		`data: {"type":"message_delta","usage":{"input_tokens":10,"output_tokens":42}}` + "\n"

	usage, ok := lastUsage(d.Feed([]byte(stream)))
	require.True(t, ok)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 42}, usage)
}

func TestDecoderCloseDrainsFinalLine(t *testing.T) {
	d := NewDecoder(DialectOpenAI)
	events := d.Feed([]byte(`data: {"choices":[{"delta":{"content":"partial"}}]}`))
	assert.Empty(t, events)

	events = d.Close()
	require.Len(t, events, 1)
	assert.Equal(t, "partial", events[0].Text)
}

func TestDetectDialect(t *testing.T) {
	assert.Equal(t, DialectAnthropic, DetectDialect("", "claude-sonnet-4"))
	assert.Equal(t, DialectAnthropic, DetectDialect("https://api.anthropic.com", "gpt-4o"))
	assert.Equal(t, DialectAnthropic, DetectDialect("https://gw.example.com/anthropic", "mystery"))
	assert.Equal(t, DialectOpenAI, DetectDialect("https://api.openai.com", "gpt-4o"))
	assert.Equal(t, DialectOpenAI, DetectDialect("https://router.example.com", "llama-3-70b"))
}
