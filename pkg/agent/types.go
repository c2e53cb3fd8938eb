package agent

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation. History is append-only during a
// run and owned exclusively by one Agent instance.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one model-issued tool invocation. Arguments is the
// JSON-encoded argument payload exactly as streamed by the backend.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage tracks token consumption for one run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EventType tags a streaming event.
type EventType string

const (
	EventTextDelta  EventType = "text_delta"
	EventToolCall   EventType = "tool_call"
	EventToolOutput EventType = "tool_output"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is the unit the whole system communicates in. The trace fields are
// zero until the scheduler stamps them.
type Event struct {
	Type EventType `json:"type"`

	// text_delta
	Text string `json:"text,omitempty"`

	// tool_call
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// tool_output
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     string `json:"result,omitempty"`
	Err        string `json:"error,omitempty"`

	// done
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`

	// trace metadata, stamped by the scheduler
	TraceID   string    `json:"trace_id,omitempty"`
	SpanID    int64     `json:"span_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ToolSpec is the schema-level view of a tool sent to the model backend.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func textDeltaEvent(text string) Event {
	return Event{Type: EventTextDelta, Text: text}
}

func toolCallEvent(call ToolCall) Event {
	c := call
	return Event{Type: EventToolCall, ToolCall: &c}
}

func toolOutputEvent(callID, result string, err error) Event {
	ev := Event{Type: EventToolOutput, ToolCallID: callID, Result: result}
	if err != nil {
		ev.Err = err.Error()
	}
	return ev
}

func doneEvent(usage *Usage, finishReason string) Event {
	return Event{Type: EventDone, Usage: usage, FinishReason: finishReason}
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Err: err.Error()}
}
