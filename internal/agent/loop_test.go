package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkw15555506767-boop/CodeNova/internal/api"
	"github.com/zkw15555506767-boop/CodeNova/internal/claude"
	"github.com/zkw15555506767-boop/CodeNova/internal/config"
	"github.com/zkw15555506767-boop/CodeNova/internal/permission"
	"github.com/zkw15555506767-boop/CodeNova/internal/session"
	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// sentRecorder captures outbound UI messages.
type sentRecorder struct {
	msgs chan *ws.Message
}

func newSentRecorder() *sentRecorder {
	return &sentRecorder{msgs: make(chan *ws.Message, 128)}
}

func (r *sentRecorder) SendMessage(msg *ws.Message) error {
	r.msgs <- msg
	return nil
}

func (r *sentRecorder) next(t *testing.T, msgType ws.MessageType) json.RawMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-r.msgs:
			if msg.Type == msgType {
				return msg.Payload
			}
		case <-deadline:
			t.Fatalf("no %s message arrived", msgType)
		}
	}
}

func (r *sentRecorder) expectNone(t *testing.T, msgType ws.MessageType, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg := <-r.msgs:
			if msg.Type == msgType {
				t.Fatalf("unexpected %s message: %s", msgType, string(msg.Payload))
			}
		case <-deadline:
			return
		}
	}
}

// fakeRunner drives the loop without a real claude process.
type fakeRunner struct {
	opts claude.RunnerOptions
	run  func(ctx context.Context, prompt string, opts claude.RunnerOptions) error
}

func (f *fakeRunner) Run(ctx context.Context, prompt string) error {
	return f.run(ctx, prompt, f.opts)
}

func newTestAgent(run func(ctx context.Context, prompt string, opts claude.RunnerOptions) error) (*Agent, *sentRecorder) {
	rec := newSentRecorder()
	a := &Agent{
		cfg: &config.Config{
			ApprovedFolders: []config.Folder{{ID: "folder-1", Name: "proj", Path: "/tmp/proj"}},
		},
		ws:       rec,
		registry: session.NewRegistry(),
		chats:    make(map[string]*api.Conversation),
	}
	a.gate = permission.NewGateWithTimeout(a.sendPermissionRequest, 2*time.Second)
	a.newRunner = func(opts claude.RunnerOptions) agentRunner {
		return &fakeRunner{opts: opts, run: run}
	}
	return a, rec
}

func promptMsg(t *testing.T, streamID string) *ws.Message {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"stream_id": streamID,
		"folder_id": "folder-1",
		"text":      "do the thing",
	})
	require.NoError(t, err)
	return &ws.Message{Type: ws.MessageTypeAgentPrompt, Payload: payload}
}

func stopMsg(t *testing.T, streamID string) *ws.Message {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"stream_id": streamID})
	require.NoError(t, err)
	return &ws.Message{Type: ws.MessageTypeAgentStop, Payload: payload}
}

func decodeChunk(t *testing.T, raw json.RawMessage) agentChunkPayload {
	t.Helper()
	var chunk agentChunkPayload
	require.NoError(t, json.Unmarshal(raw, &chunk))
	return chunk
}

func TestAgentLoopForwardsChunksInOrder(t *testing.T) {
	a, rec := newTestAgent(func(ctx context.Context, prompt string, opts claude.RunnerOptions) error {
		assert.Equal(t, "do the thing", prompt)
		assert.Equal(t, "/tmp/proj", opts.WorkingDir)
		opts.OnEvent(claude.Event{Type: claude.EventText, Text: "working"})
		opts.OnEvent(claude.Event{Type: claude.EventToolRunning, ToolName: "Read"})
		opts.OnEvent(claude.Event{Type: claude.EventToolResult, Result: "contents"})
		opts.OnEvent(claude.Event{Type: claude.EventDone})
		return nil
	})

	a.handleMessage(promptMsg(t, "stream-1"))

	var types []string
	for i := 0; i < 4; i++ {
		chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
		assert.Equal(t, "stream-1", chunk.StreamID)
		types = append(types, chunk.Type)
	}
	assert.Equal(t, []string{"text", "tool_running", "tool_result", "done"}, types)

	require.Eventually(t, func() bool { return !a.registry.Holds("stream-1") },
		time.Second, 5*time.Millisecond, "registry must be released after the run ends")
}

func TestAgentLoopRejectsDuplicateStart(t *testing.T) {
	release := make(chan struct{})
	a, rec := newTestAgent(func(ctx context.Context, prompt string, opts claude.RunnerOptions) error {
		<-release
		opts.OnEvent(claude.Event{Type: claude.EventDone})
		return nil
	})

	a.handleMessage(promptMsg(t, "stream-1"))
	require.Eventually(t, func() bool { return a.registry.Holds("stream-1") },
		time.Second, 5*time.Millisecond)

	// Second start for the same stream must be refused out-of-band. An
	// error chunk here would make the UI mark the live stream as failed.
	a.handleMessage(promptMsg(t, "stream-1"))
	var rejection struct {
		StreamID string `json:"stream_id"`
		Reason   string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.next(t, ws.MessageTypeAgentRejected), &rejection))
	assert.Equal(t, "stream-1", rejection.StreamID)
	assert.Equal(t, "Agent already running", rejection.Reason)
	assert.True(t, a.registry.Holds("stream-1"))
	rec.expectNone(t, ws.MessageTypeAgentChunk, 100*time.Millisecond)

	close(release)
	chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
	assert.Equal(t, "done", chunk.Type)
}

// A runner that dies before producing any events (launch failure, broken
// pipes) must still end the stream with an error chunk.
func TestAgentLoopLaunchFailureEmitsErrorChunk(t *testing.T) {
	a, rec := newTestAgent(func(ctx context.Context, prompt string, opts claude.RunnerOptions) error {
		return errors.New("failed to start claude: executable not found")
	})

	a.handleMessage(promptMsg(t, "stream-1"))

	chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
	assert.Equal(t, "error", chunk.Type)
	assert.Equal(t, "stream-1", chunk.StreamID)
	assert.Contains(t, chunk.Error, "failed to start claude")

	require.Eventually(t, func() bool { return !a.registry.Holds("stream-1") },
		time.Second, 5*time.Millisecond)
}

// When the runner already emitted its own terminal event, a trailing
// run error must not produce a second one.
func TestAgentLoopNoDoubleTerminalOnRunError(t *testing.T) {
	a, rec := newTestAgent(func(ctx context.Context, prompt string, opts claude.RunnerOptions) error {
		opts.OnEvent(claude.Event{Type: claude.EventError, Err: "claude exited: exit status 1"})
		return errors.New("claude exited: exit status 1")
	})

	a.handleMessage(promptMsg(t, "stream-1"))

	chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
	assert.Equal(t, "error", chunk.Type)
	rec.expectNone(t, ws.MessageTypeAgentChunk, 100*time.Millisecond)
}

func TestAgentLoopStopAbortsAsDone(t *testing.T) {
	a, rec := newTestAgent(func(ctx context.Context, prompt string, opts claude.RunnerOptions) error {
		opts.OnEvent(claude.Event{Type: claude.EventText, Text: "partial"})
		<-ctx.Done()
		// The process layer reports a kill triggered by stop as a clean
		// abort, never an error
		opts.OnEvent(claude.Event{Type: claude.EventDone, Aborted: true})
		return nil
	})

	a.handleMessage(promptMsg(t, "stream-1"))
	chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
	assert.Equal(t, "text", chunk.Type)

	a.handleMessage(stopMsg(t, "stream-1"))

	// The stop ack and the terminal chunk race; gather both
	var stopped *struct {
		Success bool `json:"success"`
		Aborted bool `json:"aborted"`
	}
	var terminal *agentChunkPayload
	deadline := time.After(3 * time.Second)
	for stopped == nil || terminal == nil {
		select {
		case msg := <-rec.msgs:
			switch msg.Type {
			case ws.MessageTypeAgentStopped:
				stopped = &struct {
					Success bool `json:"success"`
					Aborted bool `json:"aborted"`
				}{}
				require.NoError(t, json.Unmarshal(msg.Payload, stopped))
			case ws.MessageTypeAgentChunk:
				c := decodeChunk(t, msg.Payload)
				terminal = &c
			}
		case <-deadline:
			t.Fatal("stop ack or terminal chunk never arrived")
		}
	}
	assert.True(t, stopped.Success)
	assert.True(t, stopped.Aborted)
	assert.Equal(t, "done", terminal.Type)
	assert.True(t, terminal.Aborted)

	require.Eventually(t, func() bool { return !a.registry.Holds("stream-1") },
		time.Second, 5*time.Millisecond)
}

func TestAgentLoopStopWithoutSession(t *testing.T) {
	a, rec := newTestAgent(nil)

	a.handleMessage(stopMsg(t, "stream-404"))

	var stopped struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.next(t, ws.MessageTypeAgentStopped), &stopped))
	assert.False(t, stopped.Success)
	assert.Equal(t, "No active agent session", stopped.Message)
}

func TestAgentLoopDropsStaleChunks(t *testing.T) {
	a, rec := newTestAgent(nil)

	// No session holds this stream, so a non-terminal chunk is stale
	a.forwardAgentEvent("stream-gone", claude.Event{Type: claude.EventText, Text: "late"})
	rec.expectNone(t, ws.MessageTypeAgentChunk, 100*time.Millisecond)

	// Terminal chunks still get through so the UI can settle state
	a.forwardAgentEvent("stream-gone", claude.Event{Type: claude.EventDone})
	chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
	assert.Equal(t, "done", chunk.Type)
}

func TestAgentLoopUnapprovedFolder(t *testing.T) {
	a, rec := newTestAgent(nil)

	payload, err := json.Marshal(map[string]string{
		"stream_id": "stream-1",
		"folder_id": "not-approved",
		"text":      "hi",
	})
	require.NoError(t, err)
	a.handleMessage(&ws.Message{Type: ws.MessageTypeAgentPrompt, Payload: payload})

	chunk := decodeChunk(t, rec.next(t, ws.MessageTypeAgentChunk))
	assert.Equal(t, "error", chunk.Type)
	assert.Equal(t, "Folder not found or not approved", chunk.Error)
	assert.False(t, a.registry.Holds("stream-1"))
}

func TestAgentLoopPermissionRoundTrip(t *testing.T) {
	decided := make(chan claude.PermissionDecision, 1)
	a, rec := newTestAgent(func(ctx context.Context, prompt string, opts claude.RunnerOptions) error {
		decided <- opts.OnPermission("Bash", map[string]interface{}{"command": "make build"})
		opts.OnEvent(claude.Event{Type: claude.EventDone})
		return nil
	})

	a.handleMessage(promptMsg(t, "stream-1"))

	// The gate surfaces the request to the UI
	var req permission.Request
	require.NoError(t, json.Unmarshal(rec.next(t, ws.MessageTypePermissionRequest), &req))
	assert.Equal(t, "Bash", req.ToolName)

	// The UI answers; the decision reaches the runner's hook
	answer, err := json.Marshal(map[string]string{
		"request_id": req.ID,
		"behavior":   "allow",
	})
	require.NoError(t, err)
	a.handleMessage(&ws.Message{Type: ws.MessageTypePermissionResult, Payload: answer})

	select {
	case decision := <-decided:
		assert.True(t, decision.Allow)
	case <-time.After(3 * time.Second):
		t.Fatal("permission decision never reached the runner")
	}
}
