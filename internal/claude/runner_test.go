package claude

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler() EventHandler {
	return func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// chanWriter lets tests wait for the async control response write
type chanWriter struct {
	lines chan string
}

func (w *chanWriter) Write(p []byte) (int, error) {
	w.lines <- string(p)
	return len(p), nil
}

func feedLines(t *testing.T, r *Runner, lines ...string) {
	t.Helper()
	for _, line := range lines {
		var msg StreamMessage
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		r.handleStreamMessage(msg)
	}
}

func TestRunnerStreamsTextAndTools(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r,
		`{"type":"system","subtype":"init","session_id":"sess-123"}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Looking at "}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"the code."}}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-1","name":"Read","input":{"file_path":"main.go"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"package main"}]}}`,
		`{"type":"result","subtype":"success","result":"Done.","usage":{"input_tokens":100,"output_tokens":20},"total_cost_usd":0.0042}`,
	)

	events := rec.all()
	require.Len(t, events, 5)

	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, "Looking at ", events[0].Text)
	assert.Equal(t, "the code.", events[1].Text)

	assert.Equal(t, EventToolRunning, events[2].Type)
	assert.Equal(t, "Read", events[2].ToolName)
	assert.Equal(t, "main.go", events[2].ToolInput["file_path"])

	assert.Equal(t, EventToolResult, events[3].Type)
	assert.Equal(t, "Read", events[3].ToolName)
	assert.Equal(t, "package main", events[3].Result)

	done := events[4]
	assert.Equal(t, EventDone, done.Type)
	assert.Equal(t, "sess-123", done.SessionID)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 100, done.Usage.InputTokens)
	assert.InDelta(t, 0.0042, done.CostUSD, 1e-9)

	assert.Equal(t, "sess-123", r.SessionID())
}

// Runs with no incremental text still surface the final result string
// exactly once before done.
func TestRunnerResultFallbackWhenNothingStreamed(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r,
		`{"type":"result","subtype":"success","result":"All tests pass."}`,
	)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, "All tests pass.", events[0].Text)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestRunnerNoFallbackAfterStreamedText(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"streamed"}}}`,
		`{"type":"result","subtype":"success","result":"streamed"}`,
	)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestRunnerErrorResult(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"process blew up"}`,
	)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "process blew up", events[0].Err)
}

func TestRunnerTruncatesLongToolResults(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	long := strings.Repeat("x", maxToolResultLen+500)
	payload, err := json.Marshal(map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "tool_result", "content": long},
			},
		},
	})
	require.NoError(t, err)
	feedLines(t, r, string(payload))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Len(t, events[0].Result, maxToolResultLen)
}

// Tool results are matched back to their proposal so the UI can show
// which tool produced them, even with several tools in flight.
func TestRunnerNamesToolResults(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-1","name":"Read","input":{}},{"type":"tool_use","id":"tu-2","name":"Bash","input":{}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-2","content":"ok"}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"package main"}]}}`,
	)

	events := rec.all()
	require.Len(t, events, 4)
	assert.Equal(t, "Bash", events[2].ToolName)
	assert.Equal(t, "ok", events[2].Result)
	assert.Equal(t, "Read", events[3].ToolName)
	assert.Equal(t, "package main", events[3].Result)
}

func TestRunnerTruncationKeepsValidUTF8(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	// 3-byte runes guarantee the cap lands mid-rune
	long := strings.Repeat("世", maxToolResultLen)
	payload, err := json.Marshal(map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "tool_result", "content": long},
			},
		},
	})
	require.NoError(t, err)
	feedLines(t, r, string(payload))

	events := rec.all()
	require.Len(t, events, 1)
	assert.True(t, utf8.ValidString(events[0].Result))
	assert.LessOrEqual(t, len(events[0].Result), maxToolResultLen)
}

func TestRunnerDecodesBlockListToolResults(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r,
		`{"type":"user","message":{"content":[{"type":"tool_result","content":[{"type":"text","text":"line one "},{"type":"text","text":"line two"}]}]}}`,
	)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "line one line two", events[0].Result)
}

func TestRunnerAnswersControlRequestAllow(t *testing.T) {
	stdin := &chanWriter{lines: make(chan string, 1)}
	var gotTool string
	var gotInput map[string]interface{}
	r := NewRunner(RunnerOptions{
		OnPermission: func(tool string, input map[string]interface{}) PermissionDecision {
			gotTool, gotInput = tool, input
			return PermissionDecision{Allow: true}
		},
	})
	r.stdin = stdin

	feedLines(t, r,
		`{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"go test ./..."}}}`,
	)

	var line string
	select {
	case line = <-stdin.lines:
	case <-time.After(2 * time.Second):
		t.Fatal("no control response written")
	}

	assert.Equal(t, "Bash", gotTool)
	assert.Equal(t, "go test ./...", gotInput["command"])

	var resp struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string `json:"subtype"`
			RequestID string `json:"request_id"`
			Response  struct {
				Behavior     string                 `json:"behavior"`
				UpdatedInput map[string]interface{} `json:"updatedInput"`
			} `json:"response"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "control_response", resp.Type)
	assert.Equal(t, "success", resp.Response.Subtype)
	assert.Equal(t, "req-1", resp.Response.RequestID)
	assert.Equal(t, "allow", resp.Response.Response.Behavior)
	assert.Equal(t, "go test ./...", resp.Response.Response.UpdatedInput["command"])
}

func TestRunnerAnswersControlRequestDeny(t *testing.T) {
	stdin := &chanWriter{lines: make(chan string, 1)}
	r := NewRunner(RunnerOptions{
		OnPermission: func(string, map[string]interface{}) PermissionDecision {
			return PermissionDecision{Allow: false, Message: "user said no"}
		},
	})
	r.stdin = stdin

	feedLines(t, r,
		`{"type":"control_request","request_id":"req-2","request":{"subtype":"can_use_tool","tool_name":"Write","input":{}}}`,
	)

	var line string
	select {
	case line = <-stdin.lines:
	case <-time.After(2 * time.Second):
		t.Fatal("no control response written")
	}

	var resp struct {
		Response struct {
			Response struct {
				Behavior string `json:"behavior"`
				Message  string `json:"message"`
			} `json:"response"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "deny", resp.Response.Response.Behavior)
	assert.Equal(t, "user said no", resp.Response.Response.Message)
}

// Only one terminal event per run, whatever order result frames and
// teardown happen in.
func TestRunnerSingleTerminalEvent(t *testing.T) {
	rec := &eventRecorder{}
	r := NewRunner(RunnerOptions{OnEvent: rec.handler()})

	feedLines(t, r, `{"type":"result","subtype":"success","result":"done"}`)
	r.emitTerminal(Event{Type: EventDone, Aborted: true})
	r.emitTerminal(Event{Type: EventError, Err: "late"})

	terminal := 0
	for _, ev := range rec.all() {
		if ev.Type == EventDone || ev.Type == EventError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}
