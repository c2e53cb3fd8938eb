package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/halim/sera/internal/metrics"
	"github.com/halim/sera/internal/tracing"
	"github.com/halim/sera/pkg/tool"
	"github.com/rs/zerolog"
)

// GateFunc is an interception point the host wires in before a tool
// actually executes. A non-nil error rejects the call; the rejection is
// recorded as a tool-role error message and the run continues.
type GateFunc func(toolName string, args map[string]interface{}) error

// Config holds agent configuration.
type Config struct {
	Provider     Provider
	Registry     *tool.Registry
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// MaxRetries is the number of retries after the initial backend
	// request; the delay before retry k is RetryDelay * 2^(k-1).
	MaxRetries int
	RetryDelay time.Duration

	// Timeout, when positive, races each backend request against a timer.
	Timeout time.Duration

	// ParallelToolCalls fans tool execution out within one turn. Parallel
	// calls do not set the ambient call context.
	ParallelToolCalls bool

	AllowedTools []string
	BlockedTools []string
	RateLimits   map[string]RateLimit

	Gate GateFunc

	SessionKey string
	Depth      int

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Agent owns one conversation and runs the core loop: send history, stream
// model output, execute tool calls, feed results back, repeat until the
// model stops requesting tools.
type Agent struct {
	cfg      Config
	allowed  map[string]bool
	blocked  map[string]bool
	limiter  *toolRateLimiter
	logger   zerolog.Logger
	messages []Message

	// sleep waits out a retry delay; injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an agent. The message history starts with the system prompt
// when one is configured.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	allowed := make(map[string]bool, len(cfg.AllowedTools))
	for _, name := range cfg.AllowedTools {
		allowed[name] = true
	}
	blocked := make(map[string]bool, len(cfg.BlockedTools))
	for _, name := range cfg.BlockedTools {
		blocked[name] = true
	}

	a := &Agent{
		cfg:     cfg,
		allowed: allowed,
		blocked: blocked,
		limiter: newToolRateLimiter(cfg.RateLimits),
		logger:  cfg.Logger.With().Str("component", "agent").Str("session_key", cfg.SessionKey).Logger(),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	if cfg.SystemPrompt != "" {
		a.messages = append(a.messages, Message{Role: RoleSystem, Content: cfg.SystemPrompt})
	}
	return a, nil
}

// Messages returns a snapshot of the conversation history.
func (a *Agent) Messages() []Message {
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Run executes one conversational turn to completion, including nested
// tool-execution sub-turns. The returned channel is unbuffered: the consumer
// controls pacing and no events are produced ahead of being requested.
// Cancel ctx to abandon a run without draining it.
func (a *Agent) Run(ctx context.Context, input string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		a.run(ctx, input, events)
	}()
	return events
}

func (a *Agent) run(ctx context.Context, input string, events chan<- Event) {
	ctx = tracing.WithSessionKey(ctx, a.cfg.SessionKey)
	ctx = tracing.WithDepth(ctx, a.cfg.Depth)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if input != "" {
		a.messages = append(a.messages, Message{Role: RoleUser, Content: input})
	}

	start := time.Now()

	for {
		turn, err := a.requestWithRetry(ctx, emit)
		if err != nil {
			a.cfg.Metrics.RecordAgentRun(a.cfg.Provider.Name(), time.Since(start), false)
			a.logger.Error().Err(err).Msg("Backend request failed, run terminated")
			emit(errorEvent(err))
			return
		}

		if len(turn.toolCalls) == 0 {
			a.messages = append(a.messages, Message{Role: RoleAssistant, Content: turn.content})
			a.cfg.Metrics.RecordAgentRun(a.cfg.Provider.Name(), time.Since(start), true)
			emit(doneEvent(turn.usage, turn.finishReason))
			return
		}

		a.messages = append(a.messages, Message{
			Role:      RoleAssistant,
			Content:   turn.content,
			ToolCalls: turn.toolCalls,
		})

		var results []Message
		if a.cfg.ParallelToolCalls {
			results = a.executeParallel(ctx, turn.toolCalls, emit)
		} else {
			results = a.executeSequential(ctx, turn.toolCalls, emit)
		}
		a.messages = append(a.messages, results...)
	}
}

type turnResult struct {
	content      string
	toolCalls    []ToolCall
	usage        *Usage
	finishReason string
}

func (a *Agent) requestWithRetry(ctx context.Context, emit func(Event) bool) (*turnResult, error) {
	req := a.buildRequest()

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryDelay * (1 << (attempt - 1))
			a.cfg.Metrics.RecordRetry()
			a.logger.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying backend request")
			if err := a.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		turn, err := a.requestOnce(ctx, req, emit)
		if err == nil {
			return turn, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", a.cfg.MaxRetries, lastErr)
}

func (a *Agent) requestOnce(ctx context.Context, req Request, emit func(Event) bool) (*turnResult, error) {
	attemptCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	chunks, err := a.cfg.Provider.Stream(attemptCtx, req)
	if err != nil {
		return nil, a.classifyProviderErr(attemptCtx, err)
	}

	asm := newToolCallAssembler()
	var content strings.Builder
	var usage *Usage
	var finishReason string

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, a.classifyProviderErr(attemptCtx, chunk.Err)
		}
		if chunk.TextDelta != "" {
			content.WriteString(chunk.TextDelta)
			if !emit(textDeltaEvent(chunk.TextDelta)) {
				return nil, ctx.Err()
			}
		}
		if chunk.ToolCall != nil {
			asm.add(chunk.ToolCall)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	if err := attemptCtx.Err(); err != nil {
		return nil, a.classifyProviderErr(attemptCtx, err)
	}

	return &turnResult{
		content:      content.String(),
		toolCalls:    asm.complete(),
		usage:        usage,
		finishReason: finishReason,
	}, nil
}

func (a *Agent) classifyProviderErr(attemptCtx context.Context, err error) error {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: backend request exceeded %s", ErrTimeout, a.cfg.Timeout)
	}
	return &ProviderError{Provider: a.cfg.Provider.Name(), Err: err}
}

func (a *Agent) buildRequest() Request {
	var specs []ToolSpec
	for _, def := range a.cfg.Registry.List() {
		if a.blocked[def.Name] {
			continue
		}
		if len(a.allowed) > 0 && !a.allowed[def.Name] {
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}

	return Request{
		Model:        a.cfg.Model,
		SystemPrompt: a.cfg.SystemPrompt,
		Messages:     a.Messages(),
		Tools:        specs,
		MaxTokens:    a.cfg.MaxTokens,
		Temperature:  a.cfg.Temperature,
	}
}

// executeSequential runs calls one at a time, establishing the ambient call
// context around each. Duplicate IDs within one turn are executed once.
func (a *Agent) executeSequential(ctx context.Context, calls []ToolCall, emit func(Event) bool) []Message {
	executed := make(map[string]bool, len(calls))
	results := make([]Message, 0, len(calls))
	for _, call := range calls {
		if executed[call.ID] {
			continue
		}
		executed[call.ID] = true
		results = append(results, a.executeCall(ctx, call, emit, false))
	}
	return results
}

// executeParallel fans calls out and joins before the turn continues. The
// ambient call context is deliberately left unset: concurrent calls would
// race on it.
func (a *Agent) executeParallel(ctx context.Context, calls []ToolCall, emit func(Event) bool) []Message {
	executed := make(map[string]bool, len(calls))
	unique := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		if executed[call.ID] {
			continue
		}
		executed[call.ID] = true
		unique = append(unique, call)
	}

	var mu sync.Mutex
	safeEmit := func(ev Event) bool {
		mu.Lock()
		defer mu.Unlock()
		return emit(ev)
	}

	results := make([]Message, len(unique))
	var wg sync.WaitGroup
	for i, call := range unique {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = a.executeCall(ctx, call, safeEmit, true)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (a *Agent) executeCall(ctx context.Context, call ToolCall, emit func(Event) bool, parallel bool) Message {
	emit(toolCallEvent(call))

	result, err := a.invoke(ctx, call, parallel)
	a.cfg.Metrics.RecordToolExecution(call.Name, err == nil)
	emit(toolOutputEvent(call.ID, result, err))

	content := result
	if err != nil {
		a.logger.Debug().Str("tool", call.Name).Err(err).Msg("Tool call failed")
		content = fmt.Sprintf("Error: %v", err)
	}
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID}
}

// invoke gates and executes one tool call. Every failure here is local to
// the call: the caller converts it into a tool-role error message.
func (a *Agent) invoke(ctx context.Context, call ToolCall, parallel bool) (string, error) {
	if a.blocked[call.Name] {
		return "", fmt.Errorf("%w: %s", ErrToolBlocked, call.Name)
	}
	if len(a.allowed) > 0 && !a.allowed[call.Name] {
		return "", fmt.Errorf("%w: %s", ErrToolNotAllowed, call.Name)
	}
	if !a.limiter.Allow(call.Name) {
		a.cfg.Metrics.RecordRateLimitReject(call.Name)
		return "", fmt.Errorf("%w: %s", ErrToolRateLimited, call.Name)
	}

	def := a.cfg.Registry.Get(call.Name)
	if def == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	var args map[string]interface{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if err := a.cfg.Registry.Validate(call.Name, args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if a.cfg.Gate != nil {
		if err := a.cfg.Gate(call.Name, args); err != nil {
			return "", err
		}
	}

	callCtx := ctx
	if !parallel {
		callCtx = tracing.WithToolCall(ctx, call.ID, call.Name)
	}
	return def.Handler(callCtx, args)
}
