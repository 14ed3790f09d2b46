package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultHTTPToolTimeout = 30 * time.Second
	maxHTTPResponseBytes   = 4 << 20
)

// HTTPToolSpec declares a collaborator tool that lives behind an HTTP route.
type HTTPToolSpec struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Method      string            `json:"method,omitempty" yaml:"method,omitempty"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	InputSchema map[string]any    `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry       RetryPolicy       `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// HTTPHandler forwards a tool call to an HTTP endpoint. GET requests carry
// the arguments as query parameters, every other method sends them as a
// JSON body.
type HTTPHandler struct {
	spec   HTTPToolSpec
	client *http.Client
	logger *slog.Logger
}

// NewHTTPHandler builds a handler for spec.
func NewHTTPHandler(spec HTTPToolSpec, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPToolTimeout
	}
	spec.Method = strings.ToUpper(strings.TrimSpace(spec.Method))
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	return &HTTPHandler{
		spec:   spec,
		client: sharedClientPool.client(timeout),
		logger: logger,
	}
}

// Endpoint returns the route the handler forwards to.
func (h *HTTPHandler) Endpoint() string {
	if h == nil {
		return ""
	}
	return h.spec.Endpoint
}

// Invoke performs the HTTP call, retrying retryable failures per the tool's
// retry policy.
func (h *HTTPHandler) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if h == nil {
		return nil, errors.New("tool: http handler is nil")
	}
	onRetry := func(attempt int, err error) {
		h.logger.Warn("retrying http tool call",
			"tool", h.spec.Name,
			"attempt", attempt,
			"error", err,
		)
	}
	result, _, err := callWithRetry(ctx, h.spec.Retry, onRetry, func(ctx context.Context, _ int) (any, error) {
		return h.do(ctx, args)
	})
	return result, err
}

func (h *HTTPHandler) do(ctx context.Context, args map[string]any) (any, error) {
	endpoint := strings.TrimSpace(h.spec.Endpoint)
	if endpoint == "" {
		return nil, newCallError(CallErrorInvalidRequest, "endpoint is empty", false, nil)
	}

	var body io.Reader
	if h.spec.Method == http.MethodGet || h.spec.Method == http.MethodDelete {
		target, err := withQuery(endpoint, args)
		if err != nil {
			return nil, newCallError(CallErrorInvalidRequest, "invalid endpoint", false, err)
		}
		endpoint = target
	} else {
		payload, err := json.Marshal(argsOrEmpty(args))
		if err != nil {
			return nil, newCallError(CallErrorInvalidRequest, "encode arguments", false, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, h.spec.Method, endpoint, body)
	if err != nil {
		return nil, newCallError(CallErrorInvalidRequest, "build request", false, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range h.spec.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, newCallError(CallErrorTimeout, fmt.Sprintf("%s %s timed out", h.spec.Method, h.spec.Endpoint), true, err)
		}
		return nil, newCallError(CallErrorTransport, "", false, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes+1))
	if err != nil {
		return nil, newCallError(CallErrorTransport, "read response", true, err)
	}
	if len(raw) > maxHTTPResponseBytes {
		return nil, newCallError(
			CallErrorUpstream,
			fmt.Sprintf("response body exceeds %d bytes", maxHTTPResponseBytes),
			false,
			nil,
		)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, newCallError(
			CallErrorUpstream,
			fmt.Sprintf("status %d: %s", resp.StatusCode, message),
			resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
			nil,
		)
	}

	return decodeHTTPResult(raw), nil
}

// decodeHTTPResult returns JSON bodies as raw JSON and anything else as text.
func decodeHTTPResult(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(raw)
}

func withQuery(endpoint string, args map[string]any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch v := args[key].(type) {
		case nil:
		case []any:
			for _, item := range v {
				q.Add(key, queryValue(item))
			}
		default:
			q.Set(key, queryValue(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func queryValue(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	case float64, bool, int, int64:
		return fmt.Sprint(typed)
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(data)
	}
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

// HTTPProvider turns HTTP tool declarations into definitions, in order.
type HTTPProvider struct {
	Specs  []HTTPToolSpec
	Logger *slog.Logger
}

// Tools implements Provider.
func (p HTTPProvider) Tools() []Definition {
	defs := make([]Definition, 0, len(p.Specs))
	for _, spec := range p.Specs {
		defs = append(defs, Definition{
			Metadata: Metadata{
				Name:        spec.Name,
				Description: spec.Description,
				InputSchema: spec.InputSchema,
			},
			Handler: NewHTTPHandler(spec, p.Logger),
		})
	}
	return defs
}
