package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStdioTestTransport starts a shell script as the child server. Scripts
// read request lines from stdin and print reply lines to stdout.
func newStdioTestTransport(t *testing.T, script string) *stdioTransport {
	t.Helper()
	tr := newStdioTransport(ServerConfig{
		Name:      "child",
		Transport: TransportStdio,
		Command:   "sh",
		Args:      []string{"-c", script},
	}, zerolog.Nop())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestStdioTransport_RequestResponse(t *testing.T) {
	tr := newStdioTestTransport(t,
		`read line; printf '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}\n'`)
	require.NoError(t, tr.Connect(context.Background()))

	result, err := tr.Send(context.Background(), "ping", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestStdioTransport_IgnoresServerNotifications(t *testing.T) {
	// A server-initiated notification (no id) arrives before the reply and
	// must not be delivered to any waiter.
	tr := newStdioTestTransport(t,
		`printf '{"jsonrpc":"2.0","method":"notifications/progress","params":{"pct":50}}\n'; `+
			`read line; printf '{"jsonrpc":"2.0","id":1,"result":"done"}\n'`)
	require.NoError(t, tr.Connect(context.Background()))

	result, err := tr.Send(context.Background(), "slow_op", nil)
	require.NoError(t, err)
	assert.Equal(t, `"done"`, string(result))
}

func TestStdioTransport_OutOfOrderReplies(t *testing.T) {
	// The child answers the second request first; the pending map must
	// route each reply to its own waiter.
	tr := newStdioTestTransport(t,
		`read a; read b; `+
			`printf '{"jsonrpc":"2.0","id":2,"result":"second"}\n'; `+
			`printf '{"jsonrpc":"2.0","id":1,"result":"first"}\n'`)
	require.NoError(t, tr.Connect(context.Background()))

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := tr.Send(context.Background(), "op", nil)
			results[i], errs[i] = string(raw), err
		}(i)
		// IDs are assigned at Send time; stagger so goroutine order is
		// request-ID order.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, `"first"`, results[0])
	assert.Equal(t, `"second"`, results[1])
}

func TestStdioTransport_RPCError(t *testing.T) {
	tr := newStdioTestTransport(t,
		`read line; printf '{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}\n'`)
	require.NoError(t, tr.Connect(context.Background()))

	_, err := tr.Send(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestStdioTransport_StreamDeathFailsPendingWaiters(t *testing.T) {
	// The child reads the request and exits without answering; the waiter
	// must be unblocked with an error, not left to the request timeout.
	tr := newStdioTestTransport(t, `read line; exit 0`)
	require.NoError(t, tr.Connect(context.Background()))

	start := time.Now()
	_, err := tr.Send(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdout closed")
	assert.Less(t, time.Since(start), stdioRequestTimeout)
}

func TestStdioTransport_Notification(t *testing.T) {
	// The child only replies once it has seen both the notification line
	// and the request line.
	tr := newStdioTestTransport(t,
		`read note; read req; printf '{"jsonrpc":"2.0","id":1,"result":"seen"}\n'`)
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.SendNotification(context.Background(), "notifications/initialized", nil))

	result, err := tr.Send(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, `"seen"`, string(result))
}

func TestStdioTransport_SendBeforeConnect(t *testing.T) {
	tr := newStdioTransport(ServerConfig{
		Name: "child", Transport: TransportStdio, Command: "sh",
	}, zerolog.Nop())

	_, err := tr.Send(context.Background(), "ping", nil)
	assert.ErrorContains(t, err, "not connected")
}

func TestStdioTransport_CloseRejectsTraffic(t *testing.T) {
	tr := newStdioTestTransport(t, `while read line; do :; done`)
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Close())

	_, err := tr.Send(context.Background(), "ping", nil)
	assert.ErrorContains(t, err, "not connected")
}
