package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	jsonRPCVersion = "2.0"

	// ProtocolVersion is the protocol revision announced by initialize.
	ProtocolVersion = "2024-11-05"

	// ErrorCode is the code carried by every error envelope the
	// dispatcher produces.
	ErrorCode = -1
)

// Protocol method names.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// Request is an inbound JSON-RPC 2.0 envelope. ID is kept as raw JSON so
// that numbers, strings and null are echoed back exactly as received.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 envelope. Exactly one of Result and
// Error is set. ID is always serialized; a missing request id becomes null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Error != nil
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// RequestError wraps transport/protocol failures in request flow.
type RequestError struct {
	Method string
	Err    error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: request %q failed: %v", e.Method, e.Err)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ServerInfo identifies the bridge in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Capabilities is the capability document returned by initialize.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// InitializeResult is returned by the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Tool describes one catalog entry in tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolsListResult is returned by tools/list. Tools is never nil.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolsCallParams is the params document of tools/call.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one content item of a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolsCallResult is returned by tools/call.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
}

// Text returns the concatenated text of every text block.
func (r ToolsCallResult) Text() string {
	var buf bytes.Buffer
	for _, block := range r.Content {
		if block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}
	return buf.String()
}

var nullID = json.RawMessage("null")

func normalizeID(id json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 {
		return nullID
	}
	return trimmed
}

func resultResponse(id json.RawMessage, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, fmt.Sprintf("Error encoding result: %v", err))
	}
	return Response{JSONRPC: jsonRPCVersion, ID: normalizeID(id), Result: data}
}

func errorResponse(id json.RawMessage, message string) Response {
	return Response{
		JSONRPC: jsonRPCVersion,
		ID:      normalizeID(id),
		Error:   &RPCError{Code: ErrorCode, Message: message},
	}
}
