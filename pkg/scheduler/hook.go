package scheduler

import (
	"context"

	"github.com/halim/sera/pkg/agent"
)

// Hook observes and optionally vetoes the phases of a run. Hooks execute in
// registration order; the first veto wins.
//
// A BeforeMessage veto stops the run before the backend is contacted. A
// BeforeToolCall veto is advisory: an error event is emitted for observers
// but the call proceeds, since hard enforcement belongs to the agent's gate.
type Hook interface {
	BeforeMessage(ctx context.Context, input string) bool
	BeforeToolCall(ctx context.Context, ev agent.Event) bool
	AfterToolCall(ctx context.Context, ev agent.Event)
	AfterMessage(ctx context.Context, events []agent.Event)
	OnError(ctx context.Context, err error)
}

// BaseHook is a no-op Hook for embedding, so implementations only override
// the phases they care about.
type BaseHook struct{}

func (BaseHook) BeforeMessage(ctx context.Context, input string) bool    { return true }
func (BaseHook) BeforeToolCall(ctx context.Context, ev agent.Event) bool { return true }
func (BaseHook) AfterToolCall(ctx context.Context, ev agent.Event)       {}
func (BaseHook) AfterMessage(ctx context.Context, events []agent.Event)  {}
func (BaseHook) OnError(ctx context.Context, err error)                  {}
