// Package permission holds tool invocations from agent sessions until a
// human approves or denies them. Every proposal gets its own request ID
// and its own pending slot; resolution happens exactly once, whether it
// comes from the UI, the timeout, or session teardown.
package permission

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long a request waits for a human before it is
// denied automatically.
const DefaultTimeout = 5 * time.Minute

// Behavior values for a Decision.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Decision is the outcome of one approval request.
type Decision struct {
	Behavior string
	Message  string
}

// Allowed reports whether the decision permits the tool to run.
func (d Decision) Allowed() bool {
	return d.Behavior == BehaviorAllow
}

// Request describes one pending tool proposal, as surfaced to the UI.
type Request struct {
	ID        string                 `json:"request_id"`
	ToolName  string                 `json:"tool_name"`
	ToolInput map[string]interface{} `json:"tool_input"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier is told about each new request so it can be shown to the
// user. It must not block.
type Notifier func(Request)

// Gate mediates between agent sessions that need approvals and the UI
// that grants them. One Gate serves the whole daemon; requests are
// independent and keyed by ID only, so identical proposals from
// different sessions never collide.
type Gate struct {
	timeout time.Duration
	notify  Notifier

	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewGate builds a gate with the default five-minute timeout.
func NewGate(notify Notifier) *Gate {
	return NewGateWithTimeout(notify, DefaultTimeout)
}

// NewGateWithTimeout exists so tests don't sit through five minutes.
func NewGateWithTimeout(notify Notifier, timeout time.Duration) *Gate {
	return &Gate{
		timeout: timeout,
		notify:  notify,
		pending: make(map[string]chan Decision),
	}
}

// RequestApproval registers a proposal, notifies the UI, and blocks
// until one of: Resolve is called for this request, the timeout fires
// (deny), or ctx is cancelled (deny, used when the session is torn down
// mid-wait). The pending slot is always cleaned up before returning.
func (g *Gate) RequestApproval(ctx context.Context, toolName string, toolInput map[string]interface{}) Decision {
	req := Request{
		ID:        "perm-" + uuid.NewString(),
		ToolName:  toolName,
		ToolInput: toolInput,
		CreatedAt: time.Now(),
	}

	// Buffered so a resolver never blocks on a waiter that already left.
	ch := make(chan Decision, 1)
	g.mu.Lock()
	g.pending[req.ID] = ch
	g.mu.Unlock()

	log.Printf("🔐 Permission requested: %s (%s)", req.ToolName, req.ID)
	if g.notify != nil {
		g.notify(req)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		log.Printf("🔐 Permission %s: %s (%s)", decision.Behavior, req.ToolName, req.ID)
		return decision
	case <-timer.C:
		if !g.claim(req.ID) {
			// Resolve won the race at the timeout instant and already
			// committed a decision; honor it rather than denying
			decision := <-ch
			log.Printf("🔐 Permission %s: %s (%s)", decision.Behavior, req.ToolName, req.ID)
			return decision
		}
		log.Printf("⏰ Permission request timed out: %s (%s)", req.ToolName, req.ID)
		return Decision{Behavior: BehaviorDeny, Message: "Permission request timed out"}
	case <-ctx.Done():
		g.claim(req.ID)
		return Decision{Behavior: BehaviorDeny, Message: "Session ended before the request was answered"}
	}
}

// Resolve delivers the user's decision. The first resolution wins; a
// second call, or a call for an unknown or timed-out ID, logs a warning
// and does nothing. It reports whether the decision was delivered.
func (g *Gate) Resolve(requestID string, decision Decision) bool {
	g.mu.Lock()
	ch, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()

	if !ok {
		log.Printf("⚠️ No pending permission request: %s", requestID)
		return false
	}
	ch <- decision
	return true
}

// PendingCount returns how many requests are waiting on a decision.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// claim removes the pending slot and reports whether this caller owned
// the removal. A false return means Resolve got there first, so its
// decision is already sitting in the request's channel.
func (g *Gate) claim(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[requestID]; !ok {
		return false
	}
	delete(g.pending, requestID)
	return true
}
