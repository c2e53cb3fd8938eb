package mcp

import "fmt"

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// ServerConfig describes one external tool server.
type ServerConfig struct {
	Name      string
	Transport string

	// stdio
	Command string
	Args    []string
	Env     map[string]string

	// sse and http
	URL     string
	Headers map[string]string

	// Tool name filters applied to the server's listing. Empty allow keeps
	// everything; block wins.
	AllowedTools []string
	BlockedTools []string
}

// Validate checks the config is complete for its transport.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("server %s: stdio transport requires a command", c.Name)
		}
	case TransportSSE, TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("server %s: %s transport requires a url", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}
