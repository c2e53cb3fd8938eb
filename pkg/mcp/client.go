package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/halim/sera/internal/metrics"
	"github.com/halim/sera/pkg/tool"
	"github.com/rs/zerolog"
)

// State is a client's position in the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInitialized  State = "initialized"
	StateToolsListed  State = "tools_listed"
	StateClosed       State = "closed"
)

// Client manages one server connection: transport, initialize handshake,
// tool discovery, and tool invocation.
type Client struct {
	cfg       ServerConfig
	transport Transport
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	state State
	tools []remoteTool
}

// NewClient creates a client for one configured server.
func NewClient(cfg ServerConfig, logger zerolog.Logger, m *metrics.Metrics) (*Client, error) {
	transport, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With().Str("component", "mcp_client").Str("server", cfg.Name).Logger(),
		metrics:   m,
		state:     StateDisconnected,
	}, nil
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect establishes the transport and runs the initialize handshake. It is
// an error to connect a closed client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateInitialized, StateToolsListed:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return fmt.Errorf("server %s: client is closed", c.cfg.Name)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateDisconnected)
		c.metrics.RecordServerConnect(c.cfg.Name, false)
		return err
	}

	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	if _, err := c.transport.Send(ctx, "initialize", params); err != nil {
		c.setState(StateDisconnected)
		c.metrics.RecordServerConnect(c.cfg.Name, false)
		return fmt.Errorf("server %s: initialize: %w", c.cfg.Name, err)
	}
	if err := c.transport.SendNotification(ctx, "notifications/initialized", nil); err != nil {
		c.setState(StateDisconnected)
		c.metrics.RecordServerConnect(c.cfg.Name, false)
		return fmt.Errorf("server %s: initialized notification: %w", c.cfg.Name, err)
	}

	c.setState(StateInitialized)
	c.metrics.RecordServerConnect(c.cfg.Name, true)
	c.logger.Info().Msg("Server connection initialized")
	return nil
}

// ListTools fetches the server's tool listing, applies the configured
// allow/block filters, and caches the result.
func (c *Client) ListTools(ctx context.Context) ([]tool.Definition, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateInitialized && state != StateToolsListed {
		return nil, fmt.Errorf("server %s: cannot list tools in state %s", c.cfg.Name, state)
	}

	raw, err := c.transport.Send(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listed listToolsResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("server %s: unmarshal tools/list: %w", c.cfg.Name, err)
	}

	allowed := make(map[string]bool, len(c.cfg.AllowedTools))
	for _, name := range c.cfg.AllowedTools {
		allowed[name] = true
	}
	blocked := make(map[string]bool, len(c.cfg.BlockedTools))
	for _, name := range c.cfg.BlockedTools {
		blocked[name] = true
	}

	var kept []remoteTool
	for _, rt := range listed.Tools {
		if blocked[rt.Name] {
			continue
		}
		if len(allowed) > 0 && !allowed[rt.Name] {
			continue
		}
		kept = append(kept, rt)
	}

	c.mu.Lock()
	c.tools = kept
	c.state = StateToolsListed
	c.mu.Unlock()

	c.logger.Info().Int("tools", len(kept)).Msg("Listed server tools")
	return c.definitions(kept), nil
}

// Tools returns the cached tool definitions from the last ListTools call.
func (c *Client) Tools() []tool.Definition {
	c.mu.Lock()
	kept := c.tools
	c.mu.Unlock()
	return c.definitions(kept)
}

// definitions wraps remote tools as registry definitions whose handlers
// forward to tools/call. Names are prefixed with the server name so two
// servers exporting "search" do not collide.
func (c *Client) definitions(remote []remoteTool) []tool.Definition {
	defs := make([]tool.Definition, 0, len(remote))
	for _, rt := range remote {
		rt := rt
		defs = append(defs, tool.Definition{
			Name:        c.cfg.Name + "__" + rt.Name,
			Description: rt.Description,
			Parameters:  rt.InputSchema,
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return c.CallTool(ctx, rt.Name, args)
			},
		})
	}
	return defs
}

// CallTool invokes one remote tool and flattens its content blocks to text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateInitialized && state != StateToolsListed {
		return "", fmt.Errorf("server %s: cannot call tools in state %s", c.cfg.Name, state)
	}

	raw, err := c.transport.Send(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("server %s: unmarshal tools/call: %w", c.cfg.Name, err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", fmt.Errorf("server %s: tool %s failed: %s", c.cfg.Name, name, text)
	}
	return text, nil
}

// Close tears down the transport. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()
	return c.transport.Close()
}

// ConnectAll connects every configured server, lists its tools, and
// registers them. Failing servers are logged and skipped so one bad server
// does not take the whole session down.
func ConnectAll(ctx context.Context, configs []ServerConfig, registry *tool.Registry, logger zerolog.Logger, m *metrics.Metrics) []*Client {
	var clients []*Client
	for _, cfg := range configs {
		client, err := NewClient(cfg, logger, m)
		if err != nil {
			logger.Warn().Err(err).Str("server", cfg.Name).Msg("Skipping misconfigured server")
			continue
		}
		if err := client.Connect(ctx); err != nil {
			logger.Warn().Err(err).Str("server", cfg.Name).Msg("Skipping unreachable server")
			continue
		}
		defs, err := client.ListTools(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("server", cfg.Name).Msg("Skipping server with no usable tool listing")
			_ = client.Close()
			continue
		}
		for _, def := range defs {
			if err := registry.Register(def); err != nil {
				logger.Warn().Err(err).Str("tool", def.Name).Msg("Failed to register server tool")
			}
		}
		clients = append(clients, client)
	}
	return clients
}
