package config

import "fmt"

var validTransports = map[string]bool{
	"stdio": true,
	"sse":   true,
	"http":  true,
}

// Validate checks a configuration for inconsistencies that would only
// surface later as confusing runtime failures.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Agent.Model == "" {
		return fmt.Errorf("agent model cannot be empty")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1")
	}
	if cfg.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent max retries cannot be negative")
	}
	if cfg.Agent.RetryDelayMs < 0 {
		return fmt.Errorf("agent retry delay cannot be negative")
	}
	for tool, rl := range cfg.Agent.RateLimits {
		if rl.MaxCalls <= 0 || rl.WindowMs <= 0 {
			return fmt.Errorf("rate limit for tool %q must have positive max_calls and window_ms", tool)
		}
	}

	if cfg.SubAgents.MaxConcurrent < 1 {
		return fmt.Errorf("subagent max concurrent must be at least 1")
	}
	if cfg.SubAgents.MaxDepth < 0 {
		return fmt.Errorf("subagent max depth cannot be negative")
	}
	seen := map[string]bool{}
	for _, p := range cfg.SubAgents.Profiles {
		if p.ID == "" {
			return fmt.Errorf("subagent profile id cannot be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate subagent profile id %q", p.ID)
		}
		seen[p.ID] = true
	}

	for _, srv := range cfg.Servers {
		if srv.Name == "" {
			return fmt.Errorf("server name cannot be empty")
		}
		if !validTransports[srv.Transport] {
			return fmt.Errorf("server %q has unknown transport %q", srv.Name, srv.Transport)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("server %q requires a command for stdio transport", srv.Name)
			}
		case "sse", "http":
			if srv.URL == "" {
				return fmt.Errorf("server %q requires a url for %s transport", srv.Name, srv.Transport)
			}
		}
	}

	return nil
}
