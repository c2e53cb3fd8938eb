package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halim/sera/internal/tracing"
	"github.com/halim/sera/pkg/agent"
	"github.com/rs/zerolog"
)

// Scheduler wraps an agent run with the hook pipeline and stamps every event
// with trace metadata: a run-scoped trace ID, a strictly increasing span ID,
// and a timestamp.
type Scheduler struct {
	agent  *agent.Agent
	hooks  []Hook
	logger zerolog.Logger
}

// New creates a scheduler around one agent.
func New(a *agent.Agent, logger zerolog.Logger, hooks ...Hook) *Scheduler {
	return &Scheduler{
		agent:  a,
		hooks:  hooks,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// AddHook appends a hook to the pipeline. Not safe to call during a run.
func (s *Scheduler) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Agent returns the wrapped agent.
func (s *Scheduler) Agent() *agent.Agent {
	return s.agent
}

// Run drives one turn through the hook pipeline. All events on the returned
// channel carry trace metadata.
func (s *Scheduler) Run(ctx context.Context, input string) <-chan agent.Event {
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		s.run(ctx, input, out)
	}()
	return out
}

func (s *Scheduler) run(ctx context.Context, input string, out chan<- agent.Event) {
	traceID := tracing.NewTraceID()
	ctx = tracing.WithTraceID(ctx, traceID)

	var span int64
	stamp := func(ev agent.Event) agent.Event {
		span++
		ev.TraceID = traceID
		ev.SpanID = span
		ev.Timestamp = time.Now()
		return ev
	}
	emit := func(ev agent.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, h := range s.hooks {
		if !h.BeforeMessage(ctx, input) {
			s.logger.Info().Str("trace_id", traceID).Msg("Message rejected by hook")
			emit(stamp(agent.Event{Type: agent.EventError, Err: "message rejected by hook"}))
			return
		}
	}

	var all []agent.Event
	var terminalErr error

	for ev := range s.agent.Run(ctx, input) {
		if ev.Type == agent.EventToolCall {
			for _, h := range s.hooks {
				if !h.BeforeToolCall(ctx, ev) {
					flagged := stamp(agent.Event{
						Type: agent.EventError,
						Err:  fmt.Sprintf("tool call %s flagged by hook", ev.ToolCall.Name),
					})
					all = append(all, flagged)
					if !emit(flagged) {
						return
					}
					break
				}
			}
		}

		stamped := stamp(ev)
		all = append(all, stamped)
		if !emit(stamped) {
			return
		}

		switch stamped.Type {
		case agent.EventToolOutput:
			for _, h := range s.hooks {
				h.AfterToolCall(ctx, stamped)
			}
		case agent.EventError:
			terminalErr = errors.New(stamped.Err)
		}
	}

	if terminalErr != nil {
		for _, h := range s.hooks {
			h.OnError(ctx, terminalErr)
		}
		return
	}
	for _, h := range s.hooks {
		h.AfterMessage(ctx, all)
	}
}
