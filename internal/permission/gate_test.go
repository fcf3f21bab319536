package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateResolveAllow(t *testing.T) {
	var notified Request
	ready := make(chan struct{})
	g := NewGate(func(r Request) {
		notified = r
		close(ready)
	})

	done := make(chan Decision, 1)
	go func() {
		done <- g.RequestApproval(context.Background(), "Bash", map[string]interface{}{"command": "ls"})
	}()

	<-ready
	assert.Equal(t, "Bash", notified.ToolName)
	assert.NotEmpty(t, notified.ID)

	require.True(t, g.Resolve(notified.ID, Decision{Behavior: BehaviorAllow}))

	decision := <-done
	assert.True(t, decision.Allowed())
	assert.Equal(t, 0, g.PendingCount())
}

func TestGateTimeoutDenies(t *testing.T) {
	ready := make(chan Request, 1)
	g := NewGateWithTimeout(func(r Request) { ready <- r }, 50*time.Millisecond)

	done := make(chan Decision, 1)
	go func() {
		done <- g.RequestApproval(context.Background(), "Write", nil)
	}()

	req := <-ready
	decision := <-done
	assert.False(t, decision.Allowed())
	assert.Equal(t, "Permission request timed out", decision.Message)
	assert.Equal(t, 0, g.PendingCount())

	// A decision that arrives after the timeout is a no-op.
	assert.False(t, g.Resolve(req.ID, Decision{Behavior: BehaviorAllow}))
}

// A decision Resolve reports as delivered must be the one the waiter
// returns, even when it lands at the same instant the timeout fires.
func TestGateResolveAtTimeoutInstantIsHonored(t *testing.T) {
	for i := 0; i < 50; i++ {
		ready := make(chan Request, 1)
		g := NewGateWithTimeout(func(r Request) { ready <- r }, time.Millisecond)

		done := make(chan Decision, 1)
		go func() {
			done <- g.RequestApproval(context.Background(), "Bash", nil)
		}()

		req := <-ready
		time.Sleep(time.Millisecond)
		delivered := g.Resolve(req.ID, Decision{Behavior: BehaviorAllow})

		decision := <-done
		if delivered {
			assert.True(t, decision.Allowed(), "delivered decision was dropped")
		} else {
			assert.False(t, decision.Allowed())
			assert.Equal(t, "Permission request timed out", decision.Message)
		}
		assert.Equal(t, 0, g.PendingCount())
	}
}

func TestGateResolveExactlyOnce(t *testing.T) {
	ready := make(chan Request, 1)
	g := NewGate(func(r Request) { ready <- r })

	done := make(chan Decision, 1)
	go func() {
		done <- g.RequestApproval(context.Background(), "Edit", nil)
	}()

	req := <-ready
	assert.True(t, g.Resolve(req.ID, Decision{Behavior: BehaviorDeny, Message: "not now"}))
	assert.False(t, g.Resolve(req.ID, Decision{Behavior: BehaviorAllow}))

	decision := <-done
	assert.False(t, decision.Allowed())
	assert.Equal(t, "not now", decision.Message)
}

func TestGateUnknownRequestIsNoOp(t *testing.T) {
	g := NewGate(nil)
	assert.False(t, g.Resolve("perm-nope", Decision{Behavior: BehaviorAllow}))
}

func TestGateContextCancelDenies(t *testing.T) {
	g := NewGate(func(Request) {})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Decision, 1)
	go func() {
		done <- g.RequestApproval(ctx, "Bash", nil)
	}()

	// Let the request register before tearing the session down.
	require.Eventually(t, func() bool { return g.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	decision := <-done
	assert.False(t, decision.Allowed())
	assert.Equal(t, 0, g.PendingCount())
}

// Identical proposals get distinct IDs and resolve independently.
func TestGateConcurrentRequestsAreIndependent(t *testing.T) {
	var mu sync.Mutex
	var requests []Request
	g := NewGate(func(r Request) {
		mu.Lock()
		requests = append(requests, r)
		mu.Unlock()
	})

	results := make(chan Decision, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- g.RequestApproval(context.Background(), "Bash", map[string]interface{}{"command": "rm -rf build"})
		}()
	}

	require.Eventually(t, func() bool { return g.PendingCount() == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Len(t, requests, 2)
	assert.NotEqual(t, requests[0].ID, requests[1].ID)
	first, second := requests[0].ID, requests[1].ID
	mu.Unlock()

	require.True(t, g.Resolve(first, Decision{Behavior: BehaviorAllow}))
	require.True(t, g.Resolve(second, Decision{Behavior: BehaviorDeny}))

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		got[(<-results).Behavior]++
	}
	assert.Equal(t, map[string]int{BehaviorAllow: 1, BehaviorDeny: 1}, got)
}
