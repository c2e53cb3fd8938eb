package tracing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	traceIDKey contextKey = iota
	sessionKeyKey
	toolCallIDKey
	toolNameKey
	depthKey
)

// CallContext is the ambient per-call state a tool handler can read without
// it being passed as an explicit argument. It is carried as context values,
// so the caller's context is untouched after the call returns on any path.
type CallContext struct {
	SessionKey string
	ToolCallID string
	ToolName   string
	Depth      int
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID retrieves the trace ID from the context, or "".
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionKey adds a session key to the context.
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, sessionKey)
}

// SessionKey retrieves the session key from the context, or "".
func SessionKey(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyKey).(string); ok {
		return v
	}
	return ""
}

// WithToolCall returns a child context scoped to a single tool invocation.
// The parent context keeps its previous (possibly unset) values, so the
// pre-call state is restored simply by dropping the child context.
func WithToolCall(ctx context.Context, callID, toolName string) context.Context {
	ctx = context.WithValue(ctx, toolCallIDKey, callID)
	return context.WithValue(ctx, toolNameKey, toolName)
}

// ToolCallID retrieves the active tool-call ID from the context, or "".
func ToolCallID(ctx context.Context) string {
	if v, ok := ctx.Value(toolCallIDKey).(string); ok {
		return v
	}
	return ""
}

// ToolName retrieves the active tool name from the context, or "".
func ToolName(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey).(string); ok {
		return v
	}
	return ""
}

// WithDepth adds the sub-agent nesting depth to the context.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}

// Depth retrieves the sub-agent nesting depth from the context. The root
// agent runs at depth 0.
func Depth(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey).(int); ok {
		return v
	}
	return 0
}

// FromContext extracts the full ambient call context.
func FromContext(ctx context.Context) CallContext {
	return CallContext{
		SessionKey: SessionKey(ctx),
		ToolCallID: ToolCallID(ctx),
		ToolName:   ToolName(ctx),
		Depth:      Depth(ctx),
	}
}
