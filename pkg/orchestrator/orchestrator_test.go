package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/halim/sera/internal/config"
	"github.com/halim/sera/pkg/agent"
	"github.com/halim/sera/pkg/subagent"
	"github.com/halim/sera/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu    sync.Mutex
	turns [][]agent.Chunk
	calls int
}

func (f *scriptedProvider) Name() string { return "scripted" }

func (f *scriptedProvider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	var chunks []agent.Chunk
	if idx < len(f.turns) {
		chunks = f.turns[idx]
	}
	out := make(chan agent.Chunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (f *scriptedProvider) Complete(ctx context.Context, req agent.Request) (*agent.Response, error) {
	return nil, errors.New("not implemented")
}

func quietConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log.Console = false
	cfg.Log.Level = "error"
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, provider agent.Provider) *Orchestrator {
	t.Helper()
	if cfg == nil {
		cfg = quietConfig()
	}
	o, err := New(Options{Config: cfg, Provider: provider})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func intPtr(i int) *int { return &i }

func TestNewSession_EndToEnd(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Chunk{
		{{TextDelta: "hello"}, {FinishReason: "end_turn", Usage: &agent.Usage{TotalTokens: 3}}},
	}}
	o := newTestOrchestrator(t, nil, provider)

	session, err := o.NewSession("session-1")
	require.NoError(t, err)

	var events []agent.Event
	for ev := range session.Run(context.Background(), "hi") {
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, agent.EventTextDelta, events[0].Type)
	assert.Equal(t, agent.EventDone, events[len(events)-1].Type)
	assert.NotEmpty(t, events[0].TraceID)
}

func TestNew_PermissionGateWired(t *testing.T) {
	cfg := quietConfig()
	cfg.Permissions.Block = []string{"danger"}

	provider := &scriptedProvider{turns: [][]agent.Chunk{
		{
			{ToolCall: &agent.ToolCallDelta{Index: intPtr(0), ID: "c1", Name: "danger", Arguments: `{}`}},
			{FinishReason: "tool_use"},
		},
		{{TextDelta: "done"}, {FinishReason: "end_turn"}},
	}}
	o := newTestOrchestrator(t, cfg, provider)

	executed := false
	require.NoError(t, o.Registry().Register(tool.Definition{
		Name: "danger",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			executed = true
			return "", nil
		},
	}))

	session, err := o.NewSession("session-1")
	require.NoError(t, err)

	var denied bool
	for ev := range session.Run(context.Background(), "go") {
		if ev.Type == agent.EventToolOutput && ev.Err != "" {
			assert.Contains(t, ev.Err, "permission denied")
			denied = true
		}
	}

	assert.True(t, denied)
	assert.False(t, executed)
}

func TestNew_DelegateToolRegisteredWithProfiles(t *testing.T) {
	cfg := quietConfig()
	cfg.SubAgents.Profiles = []config.ProfileConfig{
		{ID: "researcher", SystemPrompt: "You research.", Model: "test-model"},
	}

	o := newTestOrchestrator(t, cfg, &scriptedProvider{})

	assert.NotNil(t, o.Registry().Get(subagent.DelegateToolName))
	assert.Len(t, o.SubAgents().Profiles(), 1)
}

func TestNew_NoDelegateToolWithoutProfiles(t *testing.T) {
	o := newTestOrchestrator(t, nil, &scriptedProvider{})
	assert.Nil(t, o.Registry().Get(subagent.DelegateToolName))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := quietConfig()
	cfg.Agent.Model = ""

	_, err := New(Options{Config: cfg, Provider: &scriptedProvider{}})
	assert.ErrorContains(t, err, "model cannot be empty")
}

func TestNew_UnknownProviderName(t *testing.T) {
	cfg := quietConfig()
	cfg.Provider.Name = "quantum"

	_, err := New(Options{Config: cfg})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestConfigConversions(t *testing.T) {
	cfg := quietConfig()
	cfg.Agent.RateLimits = map[string]config.RateLimit{
		"search": {MaxCalls: 3, WindowMs: 1500},
	}
	cfg.SubAgents.Profiles = []config.ProfileConfig{
		{
			ID: "coder", Model: "m", TimeoutMs: 2000, BlockedTools: []string{"rm"},
			MaxRetries: 2, RetryDelayMs: 500,
			RateLimits: map[string]config.RateLimit{"run_shell": {MaxCalls: 2, WindowMs: 1000}},
		},
	}

	limits := rateLimitsFromConfig(cfg.Agent.RateLimits)
	require.Contains(t, limits, "search")
	assert.Equal(t, 3, limits["search"].MaxCalls)
	assert.Equal(t, int64(1500), limits["search"].Window.Milliseconds())

	profiles := profilesFromConfig(cfg.SubAgents.Profiles)
	require.Len(t, profiles, 1)
	assert.Equal(t, int64(2000), profiles[0].Timeout.Milliseconds())
	assert.Equal(t, []string{"rm"}, profiles[0].BlockedTools)
	assert.Equal(t, 2, profiles[0].MaxRetries)
	assert.Equal(t, int64(500), profiles[0].RetryDelay.Milliseconds())
	assert.Equal(t, 2, profiles[0].RateLimits["run_shell"].MaxCalls)
}
