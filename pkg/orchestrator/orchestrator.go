package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/halim/sera/internal/config"
	"github.com/halim/sera/internal/logger"
	"github.com/halim/sera/internal/metrics"
	"github.com/halim/sera/pkg/agent"
	"github.com/halim/sera/pkg/mcp"
	"github.com/halim/sera/pkg/permission"
	"github.com/halim/sera/pkg/scheduler"
	"github.com/halim/sera/pkg/subagent"
	"github.com/halim/sera/pkg/tool"
	"github.com/rs/zerolog"
)

// Orchestrator assembles the whole runtime from configuration: logging,
// metrics, the tool registry, the permission controller, the sub-agent
// manager, and connections to external tool servers. Sessions are created
// on top of this shared plumbing.
type Orchestrator struct {
	cfg         *config.Config
	log         *logger.Logger
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	registry    *tool.Registry
	provider    agent.Provider
	creator     agent.Creator
	permissions *permission.Controller
	subAgents   *subagent.Manager
	servers     []*mcp.Client
}

// Options configures orchestrator construction.
type Options struct {
	Config *config.Config

	// Provider overrides the config-built default backend. Mainly for
	// embedding and tests.
	Provider agent.Provider

	// Creator builds providers for profiles naming another backend.
	// Defaults to the standard factory.
	Creator agent.Creator
}

// New builds an orchestrator. Call ConnectServers afterwards to bring up
// external tool servers, and Close to tear everything down.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
		Pretty:  cfg.Log.Pretty,
	})
	if err != nil {
		return nil, err
	}
	zl := log.Zerolog()

	creator := opts.Creator
	if creator == nil {
		creator = &agent.Factory{}
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = creator.NewProvider(agent.ProviderConfig{
			Name:   cfg.Provider.Name,
			APIKey: cfg.Provider.APIKey,
		})
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("build default provider: %w", err)
		}
	}

	m := metrics.New()
	registry := tool.NewRegistry(zl)

	permissions, err := permission.NewController(permission.Config{
		AllowRules:      cfg.Permissions.Allow,
		BlockRules:      cfg.Permissions.Block,
		StrictAllowlist: cfg.Permissions.StrictAllowlist,
		AuditLogPath:    cfg.Permissions.AuditLogPath,
		Logger:          zl,
	})
	if err != nil {
		log.Close()
		return nil, err
	}

	subAgents, err := subagent.NewManager(subagent.Config{
		Profiles:      profilesFromConfig(cfg.SubAgents.Profiles),
		MaxConcurrent: cfg.SubAgents.MaxConcurrent,
		MaxDepth:      cfg.SubAgents.MaxDepth,
		Registry:      registry,
		Provider:      provider,
		Creator:       creator,
		APIKeys:       map[string]string{cfg.Provider.Name: cfg.Provider.APIKey},
		Gate:          permissions.Gate(),
		Logger:        zl,
		Metrics:       m,
	})
	if err != nil {
		permissions.Close()
		log.Close()
		return nil, err
	}

	if len(cfg.SubAgents.Profiles) > 0 {
		if err := registry.Register(subagent.DelegateTool(subAgents)); err != nil {
			permissions.Close()
			log.Close()
			return nil, err
		}
	}

	return &Orchestrator{
		cfg:         cfg,
		log:         log,
		logger:      zl,
		metrics:     m,
		registry:    registry,
		provider:    provider,
		creator:     creator,
		permissions: permissions,
		subAgents:   subAgents,
	}, nil
}

// ConnectServers connects every configured external tool server and
// registers its tools. Unreachable servers are skipped.
func (o *Orchestrator) ConnectServers(ctx context.Context) {
	o.servers = mcp.ConnectAll(ctx, serversFromConfig(o.cfg.Servers), o.registry, o.logger, o.metrics)
}

// NewSession creates a fresh conversation bound to the shared registry,
// permissions, and metrics. Each session owns its history.
func (o *Orchestrator) NewSession(sessionKey string) (*scheduler.Scheduler, error) {
	a, err := agent.New(agent.Config{
		Provider:          o.provider,
		Registry:          o.registry,
		SystemPrompt:      o.cfg.Agent.SystemPrompt,
		Model:             o.cfg.Agent.Model,
		MaxTokens:         o.cfg.Agent.MaxTokens,
		Temperature:       o.cfg.Agent.Temperature,
		MaxRetries:        o.cfg.Agent.MaxRetries,
		RetryDelay:        time.Duration(o.cfg.Agent.RetryDelayMs) * time.Millisecond,
		Timeout:           time.Duration(o.cfg.Agent.TimeoutMs) * time.Millisecond,
		ParallelToolCalls: o.cfg.Agent.ParallelToolCalls,
		RateLimits:        rateLimitsFromConfig(o.cfg.Agent.RateLimits),
		Gate:              o.permissions.Gate(),
		SessionKey:        sessionKey,
		Logger:            o.logger,
		Metrics:           o.metrics,
	})
	if err != nil {
		return nil, err
	}
	return scheduler.New(a, o.logger, NewLoggingHook(o.logger)), nil
}

// Registry returns the shared tool registry.
func (o *Orchestrator) Registry() *tool.Registry { return o.registry }

// Metrics returns the metrics collector.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Permissions returns the permission controller.
func (o *Orchestrator) Permissions() *permission.Controller { return o.permissions }

// SubAgents returns the sub-agent manager.
func (o *Orchestrator) SubAgents() *subagent.Manager { return o.subAgents }

// Close disconnects servers and releases the audit log and log file.
func (o *Orchestrator) Close() error {
	for _, client := range o.servers {
		if err := client.Close(); err != nil {
			o.logger.Warn().Err(err).Str("server", client.Name()).Msg("Failed to close server connection")
		}
	}
	if err := o.permissions.Close(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to close audit log")
	}
	return o.log.Close()
}

func profilesFromConfig(configs []config.ProfileConfig) []subagent.Profile {
	profiles := make([]subagent.Profile, 0, len(configs))
	for _, pc := range configs {
		profiles = append(profiles, subagent.Profile{
			ID:           pc.ID,
			Name:         pc.Name,
			Description:  pc.Description,
			SystemPrompt: pc.SystemPrompt,
			Model:        pc.Model,
			MaxTokens:    pc.MaxTokens,
			Temperature:  pc.Temperature,
			Provider:     pc.Provider,
			AllowedTools: pc.AllowedTools,
			BlockedTools: pc.BlockedTools,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   time.Duration(pc.RetryDelayMs) * time.Millisecond,
			RateLimits:   rateLimitsFromConfig(pc.RateLimits),
			Timeout:      time.Duration(pc.TimeoutMs) * time.Millisecond,
		})
	}
	return profiles
}

func serversFromConfig(configs []config.ServerConfig) []mcp.ServerConfig {
	servers := make([]mcp.ServerConfig, 0, len(configs))
	for _, sc := range configs {
		servers = append(servers, mcp.ServerConfig{
			Name:         sc.Name,
			Transport:    sc.Transport,
			Command:      sc.Command,
			Args:         sc.Args,
			Env:          sc.Env,
			URL:          sc.URL,
			Headers:      sc.Headers,
			AllowedTools: sc.AllowedTools,
			BlockedTools: sc.BlockedTools,
		})
	}
	return servers
}

func rateLimitsFromConfig(limits map[string]config.RateLimit) map[string]agent.RateLimit {
	if len(limits) == 0 {
		return nil
	}
	out := make(map[string]agent.RateLimit, len(limits))
	for name, rl := range limits {
		out[name] = agent.RateLimit{
			MaxCalls: rl.MaxCalls,
			Window:   time.Duration(rl.WindowMs) * time.Millisecond,
		}
	}
	return out
}
