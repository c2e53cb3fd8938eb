package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// httpTransport does plain request/response JSON-RPC: one POST per call, the
// reply in the response body.
type httpTransport struct {
	cfg    ServerConfig
	logger zerolog.Logger
	client *http.Client

	mu     sync.Mutex
	nextID int64
	closed bool
}

func newHTTPTransport(cfg ServerConfig, logger zerolog.Logger) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		logger: logger.With().Str("server", cfg.Name).Str("transport", TransportHTTP).Logger(),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Connect is a no-op; HTTP needs no session.
func (t *httpTransport) Connect(ctx context.Context) error {
	return nil
}

func (t *httpTransport) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("server %s: transport closed", t.cfg.Name)
	}
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	body, err := t.post(ctx, newRequest(id, method, params))
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("server %s: unmarshal reply: %w", t.cfg.Name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server %s: %w", t.cfg.Name, resp.Error)
	}
	return resp.Result, nil
}

func (t *httpTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("server %s: transport closed", t.cfg.Name)
	}

	_, err := t.post(ctx, newNotification(method, params))
	return err
}

func (t *httpTransport) post(ctx context.Context, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server %s: post request: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("server %s: read reply: %w", t.cfg.Name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server %s: post status %d: %s", t.cfg.Name, resp.StatusCode, string(body))
	}
	return body, nil
}

func (t *httpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
