package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const stdioRequestTimeout = 10 * time.Second

// stdioTransport speaks line-delimited JSON-RPC over a child process's
// stdin/stdout. Replies are matched to requests by ID through a pending map.
type stdioTransport struct {
	cfg    ServerConfig
	logger zerolog.Logger

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	nextID  int64
	pending map[int64]chan *Response
	closed  bool
}

func newStdioTransport(cfg ServerConfig, logger zerolog.Logger) *stdioTransport {
	return &stdioTransport{
		cfg:     cfg,
		logger:  logger.With().Str("server", cfg.Name).Str("transport", TransportStdio).Logger(),
		pending: make(map[int64]chan *Response),
	}
}

// Connect starts the child process and begins reading replies.
func (t *stdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.process != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("server %s: stdin pipe: %w", t.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("server %s: stdout pipe: %w", t.cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("server %s: start %s: %w", t.cfg.Name, t.cfg.Command, err)
	}

	t.process = cmd
	t.stdin = stdin

	go t.listen(stdout)
	return nil
}

func (t *stdioTransport) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	// Tool results can be large single lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.logger.Error().Err(err).Msg("Failed to unmarshal server reply")
			continue
		}

		id, err := resp.ID.Int64()
		if err != nil {
			// Server-initiated notification or non-numeric ID: ignored.
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

	t.failPending(fmt.Errorf("server %s: stdout closed", t.cfg.Name))
}

// failPending unblocks every waiter after the stream dies.
func (t *stdioTransport) failPending(err error) {
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

func (t *stdioTransport) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.stdin == nil || t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("server %s: transport not connected", t.cfg.Name)
	}
	t.nextID++
	id := t.nextID
	ch := make(chan *Response, 1)
	t.pending[id] = ch
	stdin := t.stdin
	t.mu.Unlock()

	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("server %s: write request: %w", t.cfg.Name, err)
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
	case <-time.After(stdioRequestTimeout):
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("server %s: request %s timed out", t.cfg.Name, method)
	}
}

func (t *stdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	t.mu.Lock()
	stdin := t.stdin
	closed := t.closed
	t.mu.Unlock()

	if stdin == nil || closed {
		return fmt.Errorf("server %s: transport not connected", t.cfg.Name)
	}

	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return err
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("server %s: write notification: %w", t.cfg.Name, err)
	}
	return nil
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		return t.process.Process.Kill()
	}
	return nil
}
