package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAcquireRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Acquire("stream-1", Handle{}))
	assert.False(t, r.Acquire("stream-1", Handle{}), "second acquire for a held ID must fail")
	assert.True(t, r.Holds("stream-1"))

	// A different ID is unaffected.
	assert.True(t, r.Acquire("stream-2", Handle{}))
}

func TestRegistryReleaseThenReacquire(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Acquire("stream-1", Handle{}))
	r.Release("stream-1")
	assert.False(t, r.Holds("stream-1"))
	assert.True(t, r.Acquire("stream-1", Handle{}), "released ID must be reusable")
}

func TestRegistryReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Release("never-acquired")
	require.True(t, r.Acquire("stream-1", Handle{}))
	r.Release("stream-1")
	r.Release("stream-1")
	assert.Empty(t, r.Active())
}

func TestRegistryAbortCancelsAndReleases(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, r.Acquire("stream-1", Handle{Cancel: cancel, WorkingDir: "/tmp/project"}))

	assert.True(t, r.Abort("stream-1"))
	assert.Error(t, ctx.Err(), "abort must fire the session's cancel func")
	assert.False(t, r.Holds("stream-1"))

	// Nothing left to abort.
	assert.False(t, r.Abort("stream-1"))
}

func TestRegistryAbortUnknownStream(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Abort("stream-404"))
}

func TestRegistryActive(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Acquire("a", Handle{}))
	require.True(t, r.Acquire("b", Handle{}))
	assert.ElementsMatch(t, []string{"a", "b"}, r.Active())
}
