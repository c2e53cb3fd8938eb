package mcp

import (
	"encoding/json"
	"fmt"
)

// protocolVersion is the protocol revision sent during the initialize
// handshake.
const protocolVersion = "2024-11-05"

const clientName = "sera"
const clientVersion = "0.1.0"

// Request is one JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// Notification is a JSON-RPC message without an ID; no reply is expected.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 reply. ID is a json.Number to tolerate
// servers answering with either integers or strings of digits.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.Number     `json:"id"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

func newRequest(id int64, method string, params interface{}) Request {
	return Request{JSONRPC: "2.0", Method: method, Params: params, ID: id}
}

func newNotification(method string, params interface{}) Notification {
	return Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// remoteTool is the wire shape of one entry in a tools/list result.
type remoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []remoteTool `json:"tools"`
}

// callToolResult is the wire shape of a tools/call result.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}
