package subagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halim/sera/internal/metrics"
	"github.com/halim/sera/internal/tracing"
	"github.com/halim/sera/pkg/agent"
	"github.com/halim/sera/pkg/scheduler"
	"github.com/halim/sera/pkg/tool"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	defaultMaxConcurrent = 2
	defaultMaxDepth      = 2
)

var (
	ErrProfileNotFound = errors.New("sub-agent profile not found")
	ErrDepthExceeded   = errors.New("sub-agent depth limit exceeded")
	ErrRunTimeout      = errors.New("sub-agent run timed out")
)

// Config holds manager configuration.
type Config struct {
	Profiles []Profile

	// MaxConcurrent caps simultaneously running sub-agents; waiters are
	// admitted in arrival order.
	MaxConcurrent int

	// MaxDepth caps nesting: a sub-agent at this depth cannot delegate
	// further.
	MaxDepth int

	Registry *tool.Registry

	// Provider is the shared default backend. Profiles naming another
	// backend get one built through Creator.
	Provider agent.Provider
	Creator  agent.Creator
	APIKeys  map[string]string // backend name -> key, used with Creator

	Gate agent.GateFunc

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Manager runs profile-based sub-agents under a concurrency cap and a depth
// cap.
type Manager struct {
	cfg      Config
	profiles map[string]Profile
	sem      *semaphore
	logger   zerolog.Logger
}

// NewManager creates a manager. Profile IDs must be unique.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Provider == nil && cfg.Creator == nil {
		return nil, fmt.Errorf("a provider or a provider creator is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}

	profiles := make(map[string]Profile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile ID is required")
		}
		if _, dup := profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile ID: %s", p.ID)
		}
		profiles[p.ID] = p
	}

	return &Manager{
		cfg:      cfg,
		profiles: profiles,
		sem:      newSemaphore(cfg.MaxConcurrent),
		logger:   cfg.Logger.With().Str("component", "subagent_manager").Logger(),
	}, nil
}

// Profiles returns the registered profiles.
func (m *Manager) Profiles() []Profile {
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out
}

// RunSubAgent runs one sub-agent to completion. The depth check happens
// before a slot is requested or the backend is contacted, so over-deep
// delegations fail fast and cheap.
func (m *Manager) RunSubAgent(ctx context.Context, opts Options) (*Result, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = tracing.Depth(ctx) + 1
	}
	if depth > m.cfg.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds limit %d", ErrDepthExceeded, depth, m.cfg.MaxDepth)
	}

	profile, ok := m.profiles[opts.ProfileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, opts.ProfileID)
	}
	merged := mergeProfile(profile, opts.Overrides)

	provider, err := m.providerFor(merged)
	if err != nil {
		return nil, err
	}

	waitStart := time.Now()
	if err := m.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	waited := time.Since(waitStart)

	registry := m.runRegistry(merged, opts.Tools)

	runID, err := gonanoid.New()
	if err != nil {
		m.sem.Release()
		return nil, fmt.Errorf("generate run ID: %w", err)
	}

	logger := m.logger.With().
		Str("run_id", runID).
		Str("profile_id", merged.ID).
		Int("depth", depth).
		Logger()

	sub, err := agent.New(agent.Config{
		Provider:     provider,
		Registry:     registry,
		SystemPrompt: merged.SystemPrompt,
		Model:        merged.Model,
		MaxTokens:    merged.MaxTokens,
		Temperature:  merged.Temperature,
		MaxRetries:   merged.MaxRetries,
		RetryDelay:   merged.RetryDelay,
		RateLimits:   merged.RateLimits,
		Gate:         m.cfg.Gate,
		SessionKey:   opts.SessionKey,
		Depth:        depth,
		Logger:       logger,
		Metrics:      m.cfg.Metrics,
	})
	if err != nil {
		m.sem.Release()
		return nil, err
	}
	sched := scheduler.New(sub, logger)

	start := time.Now()
	outcome := make(chan runOutcome, 1)
	go func() {
		// The slot is held until the run actually finishes, even if the
		// caller gave up on it.
		defer m.sem.Release()
		outcome <- m.collect(ctx, sched, sub, runID, merged, opts, start)
	}()

	var timeout <-chan time.Time
	if merged.Timeout > 0 {
		timer := time.NewTimer(merged.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o := <-outcome:
		m.cfg.Metrics.RecordSubAgentRun(o.err == nil, waited)
		if o.err != nil {
			logger.Warn().Err(o.err).Msg("Sub-agent run failed")
		}
		return o.result, o.err
	case <-timeout:
		m.cfg.Metrics.RecordSubAgentRun(false, waited)
		logger.Warn().Dur("timeout", merged.Timeout).Msg("Sub-agent run timed out")
		return nil, fmt.Errorf("%w: profile %s after %s", ErrRunTimeout, merged.ID, merged.Timeout)
	case <-ctx.Done():
		m.cfg.Metrics.RecordSubAgentRun(false, waited)
		return nil, ctx.Err()
	}
}

type runOutcome struct {
	result *Result
	err    error
}

func (m *Manager) collect(ctx context.Context, sched *scheduler.Scheduler, sub *agent.Agent, runID string, merged Profile, opts Options, start time.Time) runOutcome {
	var events []agent.Event
	var usage *agent.Usage
	var runErr error

	for ev := range sched.Run(ctx, opts.Prompt) {
		if opts.CollectEvents {
			events = append(events, ev)
		}
		switch ev.Type {
		case agent.EventDone:
			usage = ev.Usage
		case agent.EventError:
			runErr = errors.New(ev.Err)
		}
	}
	if runErr != nil {
		return runOutcome{err: fmt.Errorf("sub-agent run %s: %w", runID, runErr)}
	}

	messages := sub.Messages()
	return runOutcome{result: &Result{
		RunID:     runID,
		ProfileID: merged.ID,
		Output:    lastAssistantContent(messages),
		Usage:     usage,
		Duration:  time.Since(start),
		Messages:  messages,
		Events:    events,
	}}
}

// runRegistry builds the tool set for one run: explicit name list first,
// then the profile's allow filter, then its block filter. Unless the
// delegate tool was explicitly requested it is stripped, so sub-agents do
// not spawn siblings by accident.
func (m *Manager) runRegistry(merged Profile, explicit []string) *tool.Registry {
	registry := m.cfg.Registry
	if len(explicit) > 0 {
		registry = registry.Subset(explicit)
	}
	registry = registry.Filter(merged.AllowedTools, merged.BlockedTools)

	explicitDelegate := false
	for _, name := range explicit {
		if name == DelegateToolName {
			explicitDelegate = true
		}
	}
	if !explicitDelegate {
		registry.Remove(DelegateToolName)
	}
	return registry
}

func (m *Manager) providerFor(merged Profile) (agent.Provider, error) {
	if merged.Provider == "" || (m.cfg.Provider != nil && merged.Provider == m.cfg.Provider.Name()) {
		if m.cfg.Provider == nil {
			return nil, fmt.Errorf("profile %s: no default provider configured", merged.ID)
		}
		return m.cfg.Provider, nil
	}
	if m.cfg.Creator == nil {
		return nil, fmt.Errorf("profile %s: no creator for provider %s", merged.ID, merged.Provider)
	}
	return m.cfg.Creator.NewProvider(agent.ProviderConfig{
		Name:   merged.Provider,
		APIKey: m.cfg.APIKeys[merged.Provider],
	})
}

// lastAssistantContent returns the most recent non-empty assistant message.
func lastAssistantContent(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
