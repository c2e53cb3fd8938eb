package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const sseRequestTimeout = 30 * time.Second

// sseTransport speaks JSON-RPC over a long-lived server-sent-event stream.
// The server announces a POST endpoint as the first stream event; requests
// go to that endpoint and replies arrive back on the stream, matched by ID.
type sseTransport struct {
	cfg    ServerConfig
	logger zerolog.Logger
	client *http.Client

	mu       sync.Mutex
	endpoint string
	nextID   int64
	pending  map[int64]chan *Response
	cancel   context.CancelFunc
	closed   bool

	ready     chan struct{} // closed once the endpoint event arrives
	streamErr chan error    // receives the stream error if it dies first
}

func newSSETransport(cfg ServerConfig, logger zerolog.Logger) *sseTransport {
	return &sseTransport{
		cfg:     cfg,
		logger:  logger.With().Str("server", cfg.Name).Str("transport", TransportSSE).Logger(),
		client:  &http.Client{},
		pending:   make(map[int64]chan *Response),
		ready:     make(chan struct{}),
		streamErr: make(chan error, 1),
	}
}

// Connect opens the event stream and waits for the server to announce its
// request endpoint.
func (t *sseTransport) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("server %s: open event stream: %w", t.cfg.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("server %s: event stream status %d", t.cfg.Name, resp.StatusCode)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.listen(resp.Body)

	select {
	case <-t.ready:
		return nil
	case err := <-t.streamErr:
		t.Close()
		return fmt.Errorf("server %s: no endpoint announced: %w", t.cfg.Name, err)
	case <-ctx.Done():
		t.Close()
		return fmt.Errorf("server %s: no endpoint announced: %w", t.cfg.Name, ctx.Err())
	}
}

func (t *sseTransport) listen(body io.ReadCloser) {
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		event, data, err := readSSEEvent(reader)
		if err != nil {
			streamErr := fmt.Errorf("server %s: event stream closed: %w", t.cfg.Name, err)
			t.failPending(streamErr)
			// Unblock a Connect still waiting for the endpoint event.
			select {
			case t.streamErr <- streamErr:
			default:
			}
			return
		}

		switch event {
		case "endpoint":
			endpoint, err := t.resolveEndpoint(string(data))
			if err != nil {
				t.logger.Error().Err(err).Msg("Invalid endpoint event")
				continue
			}
			t.mu.Lock()
			first := t.endpoint == ""
			t.endpoint = endpoint
			t.mu.Unlock()
			if first {
				close(t.ready)
			}
		case "message", "response", "":
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				t.logger.Error().Err(err).Msg("Failed to unmarshal stream reply")
				continue
			}
			id, err := resp.ID.Int64()
			if err != nil {
				continue
			}
			t.mu.Lock()
			ch, exists := t.pending[id]
			if exists {
				delete(t.pending, id)
			}
			t.mu.Unlock()
			if exists {
				ch <- &resp
			}
		}
	}
}

// resolveEndpoint interprets the announced endpoint relative to the stream
// URL, so servers may send either absolute URLs or paths like /rpc?sid=1.
func (t *sseTransport) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", err
	}
	resolved, err := base.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return resolved.String(), nil
}

func (t *sseTransport) failPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	for id, ch := range pending {
		ch <- &Response{
			ID:    json.Number(fmt.Sprintf("%d", id)),
			Error: &RPCError{Code: -32000, Message: err.Error()},
		}
	}
}

// Send POSTs the request to the announced endpoint and waits for the reply
// on the event stream. The POST response body itself is discarded.
func (t *sseTransport) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	endpoint := t.endpoint
	if endpoint == "" || t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("server %s: transport not connected", t.cfg.Name)
	}
	t.nextID++
	id := t.nextID
	ch := make(chan *Response, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.post(ctx, endpoint, newRequest(id, method, params)); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("server %s: %w", t.cfg.Name, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(sseRequestTimeout):
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("server %s: request %s timed out", t.cfg.Name, method)
	}
}

func (t *sseTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	t.mu.Lock()
	endpoint := t.endpoint
	closed := t.closed
	t.mu.Unlock()

	if endpoint == "" || closed {
		return fmt.Errorf("server %s: transport not connected", t.cfg.Name)
	}
	return t.post(ctx, endpoint, newNotification(method, params))
}

func (t *sseTransport) post(ctx context.Context, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("server %s: post request: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server %s: post status %d", t.cfg.Name, resp.StatusCode)
	}
	return nil
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// readSSEEvent reads one server-sent event: accumulated data lines and the
// optional event name, terminated by a blank line.
func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(after, " ")...)
			continue
		}
	}
}
