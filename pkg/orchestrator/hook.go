package orchestrator

import (
	"context"

	"github.com/halim/sera/pkg/agent"
	"github.com/halim/sera/pkg/scheduler"
	"github.com/rs/zerolog"
)

// LoggingHook logs run phases at debug level. It never vetoes.
type LoggingHook struct {
	scheduler.BaseHook
	logger zerolog.Logger
}

// NewLoggingHook creates a logging hook.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger.With().Str("component", "run_log").Logger()}
}

func (h *LoggingHook) BeforeMessage(ctx context.Context, input string) bool {
	h.logger.Debug().Int("input_len", len(input)).Msg("Run started")
	return true
}

func (h *LoggingHook) BeforeToolCall(ctx context.Context, ev agent.Event) bool {
	h.logger.Debug().Str("tool", ev.ToolCall.Name).Str("call_id", ev.ToolCall.ID).Msg("Tool call issued")
	return true
}

func (h *LoggingHook) AfterToolCall(ctx context.Context, ev agent.Event) {
	h.logger.Debug().Str("call_id", ev.ToolCallID).Bool("failed", ev.Err != "").Msg("Tool call finished")
}

func (h *LoggingHook) AfterMessage(ctx context.Context, events []agent.Event) {
	h.logger.Debug().Int("events", len(events)).Msg("Run finished")
}

func (h *LoggingHook) OnError(ctx context.Context, err error) {
	h.logger.Error().Err(err).Msg("Run failed")
}
