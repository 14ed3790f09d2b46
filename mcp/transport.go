package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// HTTPTransportConfig configures the message-endpoint transport.
type HTTPTransportConfig struct {
	// Endpoint is the bridge's message URL, e.g. http://localhost:8080/message.
	Endpoint string
	// Token is sent as a bearer token when non-empty.
	Token   string
	Headers map[string]string
	Client  *http.Client
}

// HTTPTransport posts each request to the message endpoint and queues the
// response body for Receive.
type HTTPTransport struct {
	mu     sync.Mutex
	cfg    HTTPTransportConfig
	recvCh chan Response
	closed bool
}

// NewHTTPTransport creates an endpoint-backed transport.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("mcp: endpoint is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPTransport{
		cfg:    cfg,
		recvCh: make(chan Response, 16),
	}, nil
}

// Send posts one request and enqueues the response envelope.
func (t *HTTPTransport) Send(ctx context.Context, request Request) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("mcp: transport is closed")
	}

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("mcp: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: send request: %w", err)
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mcp: read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mcp: endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBytes)))
	}

	var response Response
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return fmt.Errorf("mcp: decode response: %w", err)
	}
	select {
	case t.recvCh <- response:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next queued response.
func (t *HTTPTransport) Receive(ctx context.Context) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case response := <-t.recvCh:
		return response, nil
	}
}

// Close marks the transport closed.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// LocalTransport answers requests with an in-process dispatcher.
type LocalTransport struct {
	dispatcher *Dispatcher
	recvCh     chan Response
}

// NewLocalTransport returns a transport bound to d.
func NewLocalTransport(d *Dispatcher) *LocalTransport {
	return &LocalTransport{
		dispatcher: d,
		recvCh:     make(chan Response, 16),
	}
}

// Send dispatches request and enqueues the response.
func (t *LocalTransport) Send(ctx context.Context, request Request) error {
	if t.dispatcher == nil {
		return errors.New("mcp: local transport has no dispatcher")
	}
	response := t.dispatcher.Handle(ctx, request)
	select {
	case t.recvCh <- response:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next queued response.
func (t *LocalTransport) Receive(ctx context.Context) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case response := <-t.recvCh:
		return response, nil
	}
}

// Close is a no-op.
func (t *LocalTransport) Close(context.Context) error {
	return nil
}
