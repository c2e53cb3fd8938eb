package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Transport carries JSON-RPC traffic to one server. Implementations are safe
// for concurrent use after Connect.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendNotification(ctx context.Context, method string, params interface{}) error
	Close() error
}

// NewTransport builds the transport named by the config.
func NewTransport(cfg ServerConfig, logger zerolog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case TransportStdio:
		return newStdioTransport(cfg, logger), nil
	case TransportSSE:
		return newSSETransport(cfg, logger), nil
	case TransportHTTP:
		return newHTTPTransport(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
