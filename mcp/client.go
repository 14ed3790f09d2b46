package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Transport carries request envelopes to a bridge and hands back responses.
type Transport interface {
	Send(ctx context.Context, request Request) error
	Receive(ctx context.Context) (Response, error)
	Close(ctx context.Context) error
}

// Client is a JSON-RPC client for a running bridge.
type Client struct {
	transport Transport

	mu     sync.Mutex
	nextID int64
}

// NewClient returns a client that speaks over transport.
func NewClient(transport Transport) *Client {
	return &Client{
		transport: transport,
		nextID:    1,
	}
}

// Initialize performs the handshake and returns the server's capabilities.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, nil, &result); err != nil {
		return InitializeResult{}, err
	}
	return result, nil
}

// ListTools returns the server catalog from tools/list.
func (c *Client) ListTools(ctx context.Context) (ToolsListResult, error) {
	var result ToolsListResult
	if err := c.call(ctx, MethodToolsList, nil, &result); err != nil {
		return ToolsListResult{}, err
	}
	return result, nil
}

// CallTool invokes a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (ToolsCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var result ToolsCallResult
	if err := c.call(ctx, MethodToolsCall, ToolsCallParams{Name: name, Arguments: args}, &result); err != nil {
		return ToolsCallResult{}, err
	}
	return result, nil
}

// Close closes the transport.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}
	return c.transport.Close(ctx)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c == nil || c.transport == nil {
		return &RequestError{Method: method, Err: errors.New("transport is nil")}
	}

	paramsRaw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}

	id := c.nextRequestID()
	request := Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsRaw,
	}
	if err := c.transport.Send(ctx, request); err != nil {
		return &RequestError{Method: method, Err: err}
	}

	for {
		response, err := c.transport.Receive(ctx)
		if err != nil {
			return &RequestError{Method: method, Err: err}
		}
		if response.JSONRPC != "" && response.JSONRPC != jsonRPCVersion {
			return &RequestError{Method: method, Err: fmt.Errorf("unsupported jsonrpc version %q", response.JSONRPC)}
		}
		// Responses for other requests are not ours.
		if !bytes.Equal(bytes.TrimSpace(response.ID), id) {
			continue
		}

		if response.Error != nil {
			return &RequestError{Method: method, Err: response.Error}
		}
		if out == nil || len(response.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Result, out); err != nil {
			return &RequestError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	}
}

func (c *Client) nextRequestID() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return json.RawMessage(strconv.FormatInt(id, 10))
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}
