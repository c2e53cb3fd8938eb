package config

// Config is the root configuration for the orchestration core.
type Config struct {
	Log         LogConfig        `json:"log" mapstructure:"log"`
	Provider    ProviderConfig   `json:"provider" mapstructure:"provider"`
	Agent       AgentConfig      `json:"agent" mapstructure:"agent"`
	Permissions PermissionConfig `json:"permissions" mapstructure:"permissions"`
	SubAgents   SubAgentConfig   `json:"subagents" mapstructure:"subagents"`
	Servers     []ServerConfig   `json:"servers" mapstructure:"servers"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// ProviderConfig selects and authenticates the default model backend.
type ProviderConfig struct {
	Name   string `json:"name" mapstructure:"name"` // "anthropic" or "openai"
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// AgentConfig holds default agent loop settings.
type AgentConfig struct {
	Model             string               `json:"model" mapstructure:"model"`
	SystemPrompt      string               `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens         int                  `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64              `json:"temperature" mapstructure:"temperature"`
	MaxRetries        int                  `json:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs      int                  `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	TimeoutMs         int                  `json:"timeout_ms" mapstructure:"timeout_ms"`
	ParallelToolCalls bool                 `json:"parallel_tool_calls" mapstructure:"parallel_tool_calls"`
	RateLimits        map[string]RateLimit `json:"rate_limits" mapstructure:"rate_limits"`
}

// RateLimit is a per-tool sliding window limit.
type RateLimit struct {
	MaxCalls int `json:"max_calls" mapstructure:"max_calls"`
	WindowMs int `json:"window_ms" mapstructure:"window_ms"`
}

// PermissionConfig configures the permission controller.
type PermissionConfig struct {
	Allow           []string `json:"allow" mapstructure:"allow"`
	Block           []string `json:"block" mapstructure:"block"`
	StrictAllowlist bool     `json:"strict_allowlist" mapstructure:"strict_allowlist"`
	AuditLogPath    string   `json:"audit_log_path" mapstructure:"audit_log_path"`
}

// SubAgentConfig bounds delegated sub-agent execution.
type SubAgentConfig struct {
	MaxConcurrent int             `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxDepth      int             `json:"max_depth" mapstructure:"max_depth"`
	Profiles      []ProfileConfig `json:"profiles" mapstructure:"profiles"`
}

// ProfileConfig is a named sub-agent configuration bundle.
type ProfileConfig struct {
	ID           string               `json:"id" mapstructure:"id"`
	Name         string               `json:"name" mapstructure:"name"`
	Description  string               `json:"description" mapstructure:"description"`
	SystemPrompt string               `json:"system_prompt" mapstructure:"system_prompt"`
	Model        string               `json:"model" mapstructure:"model"`
	Provider     string               `json:"provider" mapstructure:"provider"`
	AllowedTools []string             `json:"allowed_tools" mapstructure:"allowed_tools"`
	BlockedTools []string             `json:"blocked_tools" mapstructure:"blocked_tools"`
	MaxTokens    int                  `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64              `json:"temperature" mapstructure:"temperature"`
	MaxRetries   int                  `json:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs int                  `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	RateLimits   map[string]RateLimit `json:"rate_limits" mapstructure:"rate_limits"`
	TimeoutMs    int                  `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// ServerConfig describes one external tool protocol server.
type ServerConfig struct {
	Name         string            `json:"name" mapstructure:"name"`
	Transport    string            `json:"transport" mapstructure:"transport"` // stdio, sse, http
	Command      string            `json:"command" mapstructure:"command"`
	Args         []string          `json:"args" mapstructure:"args"`
	Env          map[string]string `json:"env" mapstructure:"env"`
	URL          string            `json:"url" mapstructure:"url"`
	Headers      map[string]string `json:"headers" mapstructure:"headers"`
	AllowedTools []string          `json:"allowed_tools" mapstructure:"allowed_tools"`
	BlockedTools []string          `json:"blocked_tools" mapstructure:"blocked_tools"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Provider: ProviderConfig{
			Name: "anthropic",
		},
		Agent: AgentConfig{
			Model:        "claude-3-5-sonnet-20241022",
			MaxTokens:    4096,
			Temperature:  0.7,
			MaxRetries:   3,
			RetryDelayMs: 1000,
		},
		SubAgents: SubAgentConfig{
			MaxConcurrent: 2,
			MaxDepth:      2,
		},
	}
}
