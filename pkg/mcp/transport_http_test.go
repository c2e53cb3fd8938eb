package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_RequestResponse(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)

		resp := Response{
			JSONRPC: "2.0",
			ID:      json.Number(fmt.Sprintf("%d", req.ID)),
			Result:  json.RawMessage(`{"ok":true}`),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	transport := newHTTPTransport(ServerConfig{
		Name:      "http-test",
		Transport: TransportHTTP,
		URL:       server.URL,
		Headers:   map[string]string{"Authorization": "Bearer tok"},
	}, zerolog.Nop())

	require.NoError(t, transport.Connect(context.Background()))

	result, err := transport.Send(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, "Bearer tok", gotHeaders.Get("Authorization"))
}

func TestHTTPTransport_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := Response{
			JSONRPC: "2.0",
			ID:      json.Number(fmt.Sprintf("%d", req.ID)),
			Error:   &RPCError{Code: -32601, Message: "method not found"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	transport := newHTTPTransport(ServerConfig{
		Name: "http-test", Transport: TransportHTTP, URL: server.URL,
	}, zerolog.Nop())

	_, err := transport.Send(context.Background(), "nope", nil)
	require.ErrorContains(t, err, "method not found")
}

func TestHTTPTransport_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := newHTTPTransport(ServerConfig{
		Name: "http-test", Transport: TransportHTTP, URL: server.URL,
	}, zerolog.Nop())

	_, err := transport.Send(context.Background(), "tools/list", nil)
	require.ErrorContains(t, err, "status 500")
}

func TestHTTPTransport_ClosedRejectsTraffic(t *testing.T) {
	transport := newHTTPTransport(ServerConfig{
		Name: "http-test", Transport: TransportHTTP, URL: "http://127.0.0.1:0",
	}, zerolog.Nop())

	require.NoError(t, transport.Close())

	_, err := transport.Send(context.Background(), "tools/list", nil)
	assert.ErrorContains(t, err, "closed")
	assert.ErrorContains(t, transport.SendNotification(context.Background(), "n", nil), "closed")
}
