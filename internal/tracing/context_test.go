package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceIDIsUnique(t *testing.T) {
	first := NewTraceID()
	second := NewTraceID()

	require.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestCallContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithSessionKey(ctx, "session-a")
	ctx = WithDepth(ctx, 1)
	ctx = WithToolCall(ctx, "call-9", "read_file")

	cc := FromContext(ctx)
	assert.Equal(t, "session-a", cc.SessionKey)
	assert.Equal(t, "call-9", cc.ToolCallID)
	assert.Equal(t, "read_file", cc.ToolName)
	assert.Equal(t, 1, cc.Depth)
	assert.Equal(t, "trace-1", TraceID(ctx))
}

func TestToolCallScopeDoesNotLeakIntoParent(t *testing.T) {
	parent := WithSessionKey(context.Background(), "session-a")

	child := WithToolCall(parent, "call-1", "run_shell")
	assert.Equal(t, "call-1", ToolCallID(child))
	assert.Equal(t, "run_shell", ToolName(child))

	// The parent context is the pre-call state; it must be unchanged after
	// the call completes, regardless of how the call exited.
	assert.Empty(t, ToolCallID(parent))
	assert.Empty(t, ToolName(parent))
	assert.Equal(t, "session-a", SessionKey(parent))
}

func TestDepthDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, Depth(context.Background()))
	assert.Equal(t, 2, Depth(WithDepth(context.Background(), 2)))
}
