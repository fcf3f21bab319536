package agent

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zkw15555506767-boop/CodeNova/internal/claude"
	"github.com/zkw15555506767-boop/CodeNova/internal/permission"
	"github.com/zkw15555506767-boop/CodeNova/internal/session"
	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// agentRunner is what the loop needs from the process layer. Tests
// substitute a fake; production wraps claude.Runner.
type agentRunner interface {
	Run(ctx context.Context, prompt string) error
}

// agentChunkPayload is the wire shape of an agent_chunk message.
type agentChunkPayload struct {
	StreamID  string                 `json:"stream_id"`
	Type      string                 `json:"type"` // text | tool_running | tool_result | done | error
	Text      string                 `json:"text,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	ToolInput map[string]interface{} `json:"tool_input,omitempty"`
	Result    string                 `json:"result,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Usage     *claude.UsageInfo      `json:"usage,omitempty"`
	CostUSD   float64                `json:"cost_usd,omitempty"`
	Aborted   bool                   `json:"aborted,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// handleAgentPrompt starts a Claude CLI session for a stream. At most
// one session may run per stream ID; a duplicate start is rejected
// without touching the running session.
func (a *Agent) handleAgentPrompt(msg *ws.Message) {
	var payload struct {
		StreamID     string `json:"stream_id"`
		FolderID     string `json:"folder_id"`
		Text         string `json:"text"`
		SessionID    string `json:"session_id,omitempty"` // If provided, resume this CLI session
		Model        string `json:"model,omitempty"`
		SystemPrompt string `json:"system_prompt,omitempty"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal agent prompt payload: %v", err)
		return
	}
	if payload.StreamID == "" {
		payload.StreamID = uuid.NewString()
	}
	streamID := payload.StreamID

	log.Printf("📝 Agent prompt for stream %s (folder: %s, session: %s)", streamID, payload.FolderID, payload.SessionID)

	folderID := payload.FolderID
	if folderID == "" {
		folderID = a.cfg.SelectedFolderID
	}
	folder, ok := a.cfg.FolderByID(folderID)
	if !ok {
		log.Printf("❌ Folder not found or not approved: %s", folderID)
		a.sendAgentError(streamID, "Folder not found or not approved")
		return
	}

	if a.newRunner == nil && !claude.IsInstalled() {
		log.Println("❌ Claude CLI not installed")
		a.sendAgentError(streamID, "Claude CLI not installed. Please run: npm install -g @anthropic-ai/claude-code")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !a.registry.Acquire(streamID, session.Handle{Cancel: cancel, WorkingDir: folder.Path}) {
		cancel()
		log.Printf("⚠️ Agent already running for stream: %s", streamID)
		// Not an agent_chunk: an error chunk on this stream would read
		// as the running session failing. The duplicate is refused
		// out-of-band and the live stream keeps going.
		a.sendTo(ws.MessageTypeAgentRejected, map[string]interface{}{
			"stream_id": streamID,
			"reason":    "Agent already running",
		})
		return
	}

	// Tracks whether the runner delivered a done/error chunk, so a
	// launch failure that dies before the event stream starts still
	// finalizes the UI stream below.
	var terminalSent atomic.Bool

	opts := claude.RunnerOptions{
		WorkingDir:      folder.Path,
		Model:           payload.Model,
		SystemPrompt:    payload.SystemPrompt,
		ResumeSessionID: payload.SessionID,
		OnEvent: func(ev claude.Event) {
			if ev.Type == claude.EventDone || ev.Type == claude.EventError {
				terminalSent.Store(true)
			}
			a.forwardAgentEvent(streamID, ev)
		},
		OnPermission: func(toolName string, input map[string]interface{}) claude.PermissionDecision {
			decision := a.gate.RequestApproval(ctx, toolName, input)
			return claude.PermissionDecision{Allow: decision.Allowed(), Message: decision.Message}
		},
		OnSessionLinked: func(sessionID string) {
			a.sendTo(ws.MessageTypeSessionLinked, map[string]interface{}{
				"stream_id":  streamID,
				"session_id": sessionID,
				"folder_id":  folder.ID,
			})
		},
	}

	runner := a.buildRunner(opts)

	go func() {
		// Whatever way the run ends, the stream slot must come free
		defer a.registry.Release(streamID)
		if err := runner.Run(ctx, payload.Text); err != nil {
			log.Printf("❌ Agent run failed for stream %s: %v", streamID, err)
			// Launch failures return before the runner emits anything;
			// the stream still has to end in a terminal chunk
			if !terminalSent.Load() {
				a.sendAgentError(streamID, err.Error())
			}
		}
	}()
}

// handleAgentStop aborts the running session for a stream.
func (a *Agent) handleAgentStop(msg *ws.Message) {
	var payload struct {
		StreamID string `json:"stream_id"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal agent stop payload: %v", err)
		return
	}

	if !a.registry.Abort(payload.StreamID) {
		log.Printf("⚠️ Stop for stream with no active session: %s", payload.StreamID)
		a.sendTo(ws.MessageTypeAgentStopped, map[string]interface{}{
			"stream_id": payload.StreamID,
			"success":   false,
			"message":   "No active agent session",
		})
		return
	}

	log.Printf("🛑 Aborted agent session: %s", payload.StreamID)
	a.sendTo(ws.MessageTypeAgentStopped, map[string]interface{}{
		"stream_id": payload.StreamID,
		"success":   true,
		"aborted":   true,
	})
}

// handlePermissionResult delivers the user's decision to the gate.
func (a *Agent) handlePermissionResult(msg *ws.Message) {
	var payload struct {
		RequestID string `json:"request_id"`
		Behavior  string `json:"behavior"`
		Message   string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal permission result payload: %v", err)
		return
	}

	behavior := permission.BehaviorDeny
	if payload.Behavior == permission.BehaviorAllow {
		behavior = permission.BehaviorAllow
	}
	a.gate.Resolve(payload.RequestID, permission.Decision{Behavior: behavior, Message: payload.Message})
}

// forwardAgentEvent converts a runner event into an agent_chunk message.
// Non-terminal chunks for a stream the registry no longer holds are
// stale stragglers from a torn-down session and are dropped.
func (a *Agent) forwardAgentEvent(streamID string, ev claude.Event) {
	terminal := ev.Type == claude.EventDone || ev.Type == claude.EventError
	if !terminal && !a.registry.Holds(streamID) {
		log.Printf("Dropping stale %s chunk for stream: %s", ev.Type, streamID)
		return
	}

	a.sendTo(ws.MessageTypeAgentChunk, agentChunkPayload{
		StreamID:  streamID,
		Type:      string(ev.Type),
		Text:      ev.Text,
		ToolName:  ev.ToolName,
		ToolInput: ev.ToolInput,
		Result:    ev.Result,
		SessionID: ev.SessionID,
		Usage:     ev.Usage,
		CostUSD:   ev.CostUSD,
		Aborted:   ev.Aborted,
		Error:     ev.Err,
	})
}

// sendAgentError emits a terminal error chunk for a stream.
func (a *Agent) sendAgentError(streamID, message string) {
	a.sendTo(ws.MessageTypeAgentChunk, agentChunkPayload{
		StreamID: streamID,
		Type:     string(claude.EventError),
		Error:    message,
	})
}

// sendPermissionRequest surfaces a pending tool approval to the UI.
func (a *Agent) sendPermissionRequest(req permission.Request) {
	log.Printf("🔐 Forwarding permission request to UI: %s (%s)", req.ToolName, req.ID)
	a.sendTo(ws.MessageTypePermissionRequest, req)
}

// buildRunner wraps the real process runner unless a test injected one.
func (a *Agent) buildRunner(opts claude.RunnerOptions) agentRunner {
	if a.newRunner != nil {
		return a.newRunner(opts)
	}
	return claude.NewRunner(opts)
}
