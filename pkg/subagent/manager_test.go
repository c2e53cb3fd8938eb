package subagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halim/sera/internal/tracing"
	"github.com/halim/sera/pkg/agent"
	"github.com/halim/sera/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider answers every request with a fixed text turn and counts
// backend calls. An optional block channel stalls each stream until closed;
// optional per-call errors are consumed in order before any reply.
type countingProvider struct {
	mu       sync.Mutex
	calls    int
	reply    string
	errs     []error
	block    chan struct{}
	requests []agent.Request
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	block := p.block
	var err error
	if idx < len(p.errs) {
		err = p.errs[idx]
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan agent.Chunk, 2)
	go func() {
		defer close(out)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				out <- agent.Chunk{Err: ctx.Err()}
				return
			}
		}
		out <- agent.Chunk{TextDelta: p.reply}
		out <- agent.Chunk{FinishReason: "end_turn", Usage: &agent.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}}
	}()
	return out, nil
}

func (p *countingProvider) Complete(ctx context.Context, req agent.Request) (*agent.Response, error) {
	return &agent.Response{Content: p.reply}, nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestManager(t *testing.T, provider agent.Provider, cfg Config) *Manager {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = tool.NewRegistry(zerolog.Nop())
	}
	cfg.Provider = provider
	cfg.Logger = zerolog.Nop()
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = []Profile{{ID: "researcher", SystemPrompt: "You research.", Model: "test-model"}}
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestRunSubAgent_Basic(t *testing.T) {
	provider := &countingProvider{reply: "findings"}
	m := newTestManager(t, provider, Config{})

	result, err := m.RunSubAgent(context.Background(), Options{
		ProfileID: "researcher",
		Prompt:    "look this up",
	})
	require.NoError(t, err)

	assert.Equal(t, "findings", result.Output)
	assert.Equal(t, "researcher", result.ProfileID)
	assert.NotEmpty(t, result.RunID)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 2, result.Usage.TotalTokens)
	assert.NotEmpty(t, result.Messages)
}

func TestRunSubAgent_DepthCheckedBeforeBackendCall(t *testing.T) {
	provider := &countingProvider{reply: "never"}
	m := newTestManager(t, provider, Config{MaxDepth: 2})

	_, err := m.RunSubAgent(context.Background(), Options{
		ProfileID: "researcher",
		Prompt:    "too deep",
		Depth:     3,
	})

	require.ErrorIs(t, err, ErrDepthExceeded)
	assert.Equal(t, 0, provider.callCount(), "depth rejection must precede the model call")
}

func TestRunSubAgent_DepthDerivedFromContext(t *testing.T) {
	provider := &countingProvider{reply: "never"}
	m := newTestManager(t, provider, Config{MaxDepth: 2})

	// A caller already at the depth limit cannot delegate further.
	ctx := tracing.WithDepth(context.Background(), 2)
	_, err := m.RunSubAgent(ctx, Options{ProfileID: "researcher", Prompt: "go"})

	require.ErrorIs(t, err, ErrDepthExceeded)
	assert.Equal(t, 0, provider.callCount())
}

func TestRunSubAgent_ProfileNotFound(t *testing.T) {
	m := newTestManager(t, &countingProvider{}, Config{})

	_, err := m.RunSubAgent(context.Background(), Options{ProfileID: "ghost", Prompt: "go"})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestRunSubAgent_ConcurrencyCap(t *testing.T) {
	block := make(chan struct{})
	provider := &countingProvider{reply: "done", block: block}
	m := newTestManager(t, provider, Config{MaxConcurrent: 1})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.RunSubAgent(context.Background(), Options{ProfileID: "researcher", Prompt: "go"})
			results[i] = err
		}(i)
	}

	// Only the slot holder reaches the backend while the cap is saturated.
	assert.Eventually(t, func() bool { return provider.callCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, provider.callCount())

	close(block)
	wg.Wait()

	assert.NoError(t, results[0])
	assert.NoError(t, results[1])
	assert.Equal(t, 2, provider.callCount())
}

func TestRunSubAgent_ProfileTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	provider := &countingProvider{reply: "slow", block: block}
	m := newTestManager(t, provider, Config{
		Profiles: []Profile{{ID: "slowpoke", Model: "test-model", Timeout: 30 * time.Millisecond}},
	})

	_, err := m.RunSubAgent(context.Background(), Options{ProfileID: "slowpoke", Prompt: "go"})
	assert.ErrorIs(t, err, ErrRunTimeout)
}

func TestRunSubAgent_ProfileRetrySettings(t *testing.T) {
	provider := &countingProvider{
		reply: "recovered",
		errs:  []error{errors.New("503 service unavailable")},
	}
	m := newTestManager(t, provider, Config{
		Profiles: []Profile{{
			ID:         "retrier",
			Model:      "test-model",
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		}},
	})

	result, err := m.RunSubAgent(context.Background(), Options{ProfileID: "retrier", Prompt: "go"})
	require.NoError(t, err)

	// The transient failure is retried per the profile, not swallowed.
	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, "recovered", result.Output)
}

func TestRunSubAgent_DelegateToolStripped(t *testing.T) {
	registry := tool.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register(tool.Definition{
		Name:    "search",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil },
	}))

	provider := &countingProvider{reply: "ok"}
	m := newTestManager(t, provider, Config{Registry: registry})
	require.NoError(t, registry.Register(DelegateTool(m)))

	_, err := m.RunSubAgent(context.Background(), Options{ProfileID: "researcher", Prompt: "go"})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	for _, spec := range provider.requests[0].Tools {
		assert.NotEqual(t, DelegateToolName, spec.Name, "sub-agents must not see the delegate tool by default")
	}
}

func TestRunSubAgent_ExplicitToolSelection(t *testing.T) {
	registry := tool.NewRegistry(zerolog.Nop())
	for _, name := range []string{"search", "write_file"} {
		require.NoError(t, registry.Register(tool.Definition{
			Name:    name,
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil },
		}))
	}

	provider := &countingProvider{reply: "ok"}
	m := newTestManager(t, provider, Config{Registry: registry})

	_, err := m.RunSubAgent(context.Background(), Options{
		ProfileID: "researcher",
		Prompt:    "go",
		Tools:     []string{"search"},
	})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	require.Len(t, provider.requests[0].Tools, 1)
	assert.Equal(t, "search", provider.requests[0].Tools[0].Name)
}

func TestMergeProfile(t *testing.T) {
	base := Profile{
		ID:           "base",
		SystemPrompt: "base prompt",
		Model:        "base-model",
		MaxTokens:    1000,
		Temperature:  0.5,
		BlockedTools: []string{"rm"},
		Timeout:      time.Minute,
	}

	t.Run("nil overrides keep the base", func(t *testing.T) {
		assert.Equal(t, base, mergeProfile(base, nil))
	})

	t.Run("non-zero override fields win", func(t *testing.T) {
		merged := mergeProfile(base, &Profile{
			Model:     "override-model",
			MaxTokens: 2000,
		})
		assert.Equal(t, "override-model", merged.Model)
		assert.Equal(t, 2000, merged.MaxTokens)
		assert.Equal(t, "base prompt", merged.SystemPrompt)
		assert.Equal(t, 0.5, merged.Temperature)
	})

	t.Run("blocked tools are unioned", func(t *testing.T) {
		merged := mergeProfile(base, &Profile{BlockedTools: []string{"curl", "rm"}})
		assert.Equal(t, []string{"rm", "curl"}, merged.BlockedTools)
	})

	t.Run("retry and rate-limit overrides win", func(t *testing.T) {
		withLimits := base
		withLimits.MaxRetries = 2
		withLimits.RetryDelay = time.Second
		withLimits.RateLimits = map[string]agent.RateLimit{
			"search": {MaxCalls: 5, Window: time.Minute},
		}

		merged := mergeProfile(withLimits, &Profile{
			MaxRetries: 4,
			RetryDelay: 250 * time.Millisecond,
			RateLimits: map[string]agent.RateLimit{
				"search": {MaxCalls: 1, Window: time.Second},
			},
		})
		assert.Equal(t, 4, merged.MaxRetries)
		assert.Equal(t, 250*time.Millisecond, merged.RetryDelay)
		assert.Equal(t, 1, merged.RateLimits["search"].MaxCalls)

		kept := mergeProfile(withLimits, &Profile{Model: "other"})
		assert.Equal(t, 2, kept.MaxRetries)
		assert.Equal(t, time.Second, kept.RetryDelay)
		assert.Equal(t, 5, kept.RateLimits["search"].MaxCalls)
	})
}

func TestDelegateTool_ValidatesArguments(t *testing.T) {
	m := newTestManager(t, &countingProvider{reply: "ok"}, Config{})
	def := DelegateTool(m)

	_, err := def.Handler(context.Background(), map[string]interface{}{"prompt": "missing profile"})
	assert.ErrorContains(t, err, "profile_id and prompt are required")
}

func TestDelegateTool_RunsProfile(t *testing.T) {
	provider := &countingProvider{reply: "delegated answer"}
	m := newTestManager(t, provider, Config{})
	def := DelegateTool(m)

	out, err := def.Handler(context.Background(), map[string]interface{}{
		"profile_id": "researcher",
		"prompt":     "do it",
	})
	require.NoError(t, err)
	assert.Equal(t, "delegated answer", out)
}

func TestNewManager_Validation(t *testing.T) {
	registry := tool.NewRegistry(zerolog.Nop())

	_, err := NewManager(Config{Provider: &countingProvider{}})
	assert.ErrorContains(t, err, "tool registry is required")

	_, err = NewManager(Config{Registry: registry})
	assert.ErrorContains(t, err, "provider")

	_, err = NewManager(Config{
		Registry: registry,
		Provider: &countingProvider{},
		Profiles: []Profile{{ID: "dup"}, {ID: "dup"}},
	})
	assert.ErrorContains(t, err, "duplicate profile ID")
}
