package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"unicode/utf8"
)

// maxToolResultLen caps tool output forwarded to the UI. Full output
// stays with the model; the UI only needs enough to show what happened.
const maxToolResultLen = 3000

// EventType classifies runner events sent to the UI layer
type EventType string

const (
	EventText        EventType = "text"
	EventToolRunning EventType = "tool_running"
	EventToolResult  EventType = "tool_result"
	EventDone        EventType = "done"
	EventError       EventType = "error"
)

// Event is one occurrence in an agent run. Exactly one terminal event
// (done or error) is emitted per run; an aborted run terminates with
// done, never error.
type Event struct {
	Type      EventType
	Text      string
	ToolName  string
	ToolInput map[string]interface{}
	Result    string
	SessionID string
	Usage     *UsageInfo
	CostUSD   float64
	Aborted   bool
	Err       string
}

// EventHandler is called for each event during a run
type EventHandler func(Event)

// PermissionDecision is the answer to one tool-use proposal
type PermissionDecision struct {
	Allow   bool
	Message string
}

// PermissionFunc is consulted before each tool invocation. It may block
// for as long as the approval flow needs; the runner answers the CLI
// only once it returns.
type PermissionFunc func(toolName string, input map[string]interface{}) PermissionDecision

// SessionLinkedHandler is notified when the CLI reports its session ID
type SessionLinkedHandler func(sessionID string)

// RunnerOptions configures one agent run
type RunnerOptions struct {
	WorkingDir      string
	Model           string
	SystemPrompt    string
	ResumeSessionID string
	OnEvent         EventHandler
	OnPermission    PermissionFunc
	OnSessionLinked SessionLinkedHandler
}

// Runner drives one Claude CLI process in streaming JSON mode. Tool
// permissions arrive over the CLI's stdio control channel and are
// answered from the injected PermissionFunc, so nothing executes
// without going through the approval flow.
type Runner struct {
	opts RunnerOptions

	stdinMu sync.Mutex
	stdin   io.Writer

	mu              sync.Mutex
	sessionID       string
	hasStreamedText bool
	terminalSent    bool
	toolNames       map[string]string // tool_use ID -> tool name, for naming results
	finalResult     string
	finalUsage      *UsageInfo
	finalCost       float64
	runErr          string
}

// NewRunner builds a runner for a single run. Runners are not reused.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{opts: opts, toolNames: make(map[string]string)}
}

// Run executes the prompt and blocks until the run reaches a terminal
// state or ctx is cancelled. Cancellation kills the process and is
// reported as a clean abort through the event handler, not as an error.
func (r *Runner) Run(ctx context.Context, prompt string) error {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose", // Required for stream-json output format
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
	}
	if r.opts.Model != "" {
		args = append(args, "--model", r.opts.Model)
	}
	if r.opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", r.opts.SystemPrompt)
	}
	if r.opts.ResumeSessionID != "" {
		args = append(args, "--resume", r.opts.ResumeSessionID)
	}

	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Dir = r.opts.WorkingDir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start claude: %w", err)
	}
	log.Printf("🚀 Claude run started in %s", r.opts.WorkingDir)

	r.stdinMu.Lock()
	r.stdin = stdin
	r.stdinMu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("Claude stderr: %s", scanner.Text())
		}
	}()

	if err := r.SendUserMessage(prompt); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}

	scanner := bufio.NewScanner(stdout)
	// Tool results can be large; the default 64KB token limit is not enough
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg StreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			log.Printf("⚠️ Skipping malformed stream line: %v", err)
			continue
		}
		r.handleStreamMessage(msg)
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		log.Printf("🛑 Claude run aborted in %s", r.opts.WorkingDir)
		r.emitTerminal(Event{Type: EventDone, Aborted: true})
		return nil
	}
	if waitErr != nil && !r.terminalReached() {
		r.emitTerminal(Event{Type: EventError, Err: fmt.Sprintf("claude exited: %v", waitErr)})
		return waitErr
	}
	// Normal end of stream without a result frame is still a finish
	r.emitTerminal(r.doneEvent())
	return nil
}

// SendUserMessage writes one user turn to the CLI's stdin
func (r *Runner) SendUserMessage(text string) error {
	payload := map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"role":    "user",
			"content": text,
		},
	}
	return r.writeLine(payload)
}

// SessionID returns the CLI's session ID once the init frame arrived
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Runner) writeLine(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if r.stdin == nil {
		return fmt.Errorf("claude stdin not open")
	}
	if _, err := r.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to claude: %w", err)
	}
	return nil
}

func (r *Runner) handleStreamMessage(msg StreamMessage) {
	switch msg.Type {
	case "system":
		if msg.Subtype == "init" && msg.SessionID != "" {
			r.mu.Lock()
			linked := r.sessionID == "" && r.opts.OnSessionLinked != nil
			r.sessionID = msg.SessionID
			r.mu.Unlock()
			log.Printf("⚙️  Claude session: %s", msg.SessionID)
			if linked {
				r.opts.OnSessionLinked(msg.SessionID)
			}
		}

	case "stream_event":
		if msg.Event == nil {
			return
		}
		if msg.Event.Type == "content_block_delta" && msg.Event.Delta.Type == "text_delta" && msg.Event.Delta.Text != "" {
			r.mu.Lock()
			r.hasStreamedText = true
			r.mu.Unlock()
			r.sendEvent(Event{Type: EventText, Text: msg.Event.Delta.Text})
		}

	case "assistant":
		// Text already arrived incrementally via stream_event frames;
		// only tool proposals are interesting here
		for _, block := range msg.Message.Content {
			if block.Type != "tool_use" {
				continue
			}
			var input map[string]interface{}
			if len(block.Input) > 0 {
				json.Unmarshal(block.Input, &input)
			}
			if block.ID != "" {
				r.mu.Lock()
				r.toolNames[block.ID] = block.Name
				r.mu.Unlock()
			}
			log.Printf("🔧 Tool: %s", block.Name)
			r.sendEvent(Event{Type: EventToolRunning, ToolName: block.Name, ToolInput: input})
		}

	case "user":
		// The CLI reports tool output back as user-role tool_result blocks
		for _, block := range msg.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			r.mu.Lock()
			name := r.toolNames[block.ToolUseID]
			r.mu.Unlock()
			r.sendEvent(Event{Type: EventToolResult, ToolName: name, Result: truncateResult(decodeToolResult(block.Content))})
		}

	case "control_request":
		r.handleControlRequest(msg)

	case "result":
		r.handleResult(msg)
	}
}

func (r *Runner) handleControlRequest(msg StreamMessage) {
	if msg.Request == nil || msg.Request.Subtype != "can_use_tool" {
		return
	}
	req := *msg.Request
	requestID := msg.RequestID

	// Answer off the read loop so a slow approval doesn't stall other
	// stream frames
	go func() {
		decision := PermissionDecision{Allow: false, Message: "No permission handler configured"}
		if r.opts.OnPermission != nil {
			decision = r.opts.OnPermission(req.ToolName, req.Input)
		}

		var inner map[string]interface{}
		if decision.Allow {
			inner = map[string]interface{}{
				"behavior":     "allow",
				"updatedInput": req.Input,
			}
		} else {
			message := decision.Message
			if message == "" {
				message = "Permission denied by user"
			}
			inner = map[string]interface{}{
				"behavior": "deny",
				"message":  message,
			}
		}

		response := map[string]interface{}{
			"type": "control_response",
			"response": map[string]interface{}{
				"subtype":    "success",
				"request_id": requestID,
				"response":   inner,
			},
		}
		if err := r.writeLine(response); err != nil {
			log.Printf("⚠️ Failed to answer control request %s: %v", requestID, err)
		}
	}()
}

func (r *Runner) handleResult(msg StreamMessage) {
	r.mu.Lock()
	r.finalResult = msg.Result
	r.finalUsage = msg.TopLevelUsage
	r.finalCost = msg.TotalCostUSD
	if msg.IsError {
		r.runErr = msg.Result
		if r.runErr == "" {
			r.runErr = "claude reported an error result"
		}
	}
	streamed := r.hasStreamedText
	r.mu.Unlock()

	if msg.IsError {
		r.emitTerminal(r.errorEvent())
		return
	}

	// Some runs produce a final result string without any incremental
	// text (resumed sessions, pure tool runs). Surface it once so the
	// UI is never left with an empty reply.
	if !streamed && msg.Result != "" {
		r.sendEvent(Event{Type: EventText, Text: msg.Result})
	}
	r.emitTerminal(r.doneEvent())
}

func (r *Runner) doneEvent() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Event{
		Type:      EventDone,
		SessionID: r.sessionID,
		Usage:     r.finalUsage,
		CostUSD:   r.finalCost,
	}
}

func (r *Runner) errorEvent() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Event{Type: EventError, SessionID: r.sessionID, Err: r.runErr}
}

func (r *Runner) terminalReached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminalSent
}

// emitTerminal delivers at most one done/error event per run
func (r *Runner) emitTerminal(event Event) {
	r.mu.Lock()
	if r.terminalSent {
		r.mu.Unlock()
		return
	}
	r.terminalSent = true
	r.mu.Unlock()
	r.sendEvent(event)
}

func (r *Runner) sendEvent(event Event) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(event)
	}
}

// decodeToolResult flattens a tool_result payload, which the CLI sends
// either as a bare string or as a list of content blocks
func decodeToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return string(raw)
}

func truncateResult(s string) string {
	if len(s) <= maxToolResultLen {
		return s
	}
	// Never cut inside a multi-byte rune
	cut := maxToolResultLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
