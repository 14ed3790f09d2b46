package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/mcpbridge/tool"
)

const tracerName = "github.com/petal-labs/mcpbridge/mcp"

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Registry is the sealed tool catalog. Required.
	Registry *tool.Registry
	// ServerInfo is returned by initialize. Name defaults to "mcpbridge".
	ServerInfo ServerInfo
	// CallTimeout bounds one handler invocation. Zero means no timeout.
	CallTimeout time.Duration
	Logger      *slog.Logger
	Observer    Observer
	Tracer      trace.Tracer
}

// Dispatcher answers JSON-RPC requests against a tool registry. It holds no
// per-request state and is safe for concurrent use.
type Dispatcher struct {
	registry    *tool.Registry
	info        ServerInfo
	callTimeout time.Duration
	logger      *slog.Logger
	observer    Observer
	tracer      trace.Tracer
}

// NewDispatcher creates a dispatcher over cfg.Registry.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("mcp: dispatcher requires a registry")
	}
	info := cfg.ServerInfo
	if strings.TrimSpace(info.Name) == "" {
		info.Name = "mcpbridge"
	}
	if strings.TrimSpace(info.Version) == "" {
		info.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		registry:    cfg.Registry,
		info:        info,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
		observer:    observer,
		tracer:      tracer,
	}, nil
}

// ServerInfo returns the identity announced by initialize.
func (d *Dispatcher) ServerInfo() ServerInfo {
	return d.info
}

// Dispatch parses raw as one request envelope and answers it. A body that
// does not parse still yields an error envelope, with the request id when
// it can be recovered.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		id := recoverID(raw)
		d.logger.Warn("mcp request rejected", "id", string(normalizeID(id)), "error", err)
		d.observer.ObserveRequest(RequestObservation{Method: methodLabelInvalid, Failed: true})
		return errorResponse(id, fmt.Sprintf("Error processing request: %v", err))
	}
	return d.Handle(ctx, req)
}

// Handle answers one parsed request.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	label := methodLabel(req.Method)

	ctx, span := d.tracer.Start(ctx, "mcp."+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
		),
	)
	defer span.End()

	var (
		resp     Response
		toolName string
	)
	switch req.Method {
	case MethodInitialize:
		resp = d.initialize(req)
	case MethodToolsList:
		resp = d.listTools(req)
	case MethodToolsCall:
		resp, toolName = d.callTool(ctx, req)
	default:
		resp = errorResponse(req.ID, "Unknown method: "+req.Method)
	}

	elapsed := time.Since(start)
	attrs := []any{
		"method", req.Method,
		"id", string(resp.ID),
		"duration_ms", elapsed.Milliseconds(),
	}
	if toolName != "" {
		attrs = append(attrs, "tool", toolName)
		span.SetAttributes(attribute.String("mcp.tool", toolName))
	}
	if resp.Failed() {
		span.SetStatus(codes.Error, resp.Error.Message)
		d.logger.Warn("mcp request failed", append(attrs, "error", resp.Error.Message)...)
	} else {
		span.SetStatus(codes.Ok, "")
		d.logger.Info("mcp request", attrs...)
	}
	d.observer.ObserveRequest(RequestObservation{
		Method:   label,
		Failed:   resp.Failed(),
		Duration: elapsed,
	})
	return resp
}

func (d *Dispatcher) initialize(req Request) Response {
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools: ToolsCapability{ListChanged: true},
		},
		ServerInfo: d.info,
	})
}

func (d *Dispatcher) listTools(req Request) Response {
	tools := make([]Tool, 0, d.registry.Len())
	for desc := range d.registry.List() {
		tools = append(tools, Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return resultResponse(req.ID, ToolsListResult{Tools: tools})
}

func (d *Dispatcher) callTool(ctx context.Context, req Request) (Response, string) {
	var params ToolsCallParams
	if len(bytes.TrimSpace(req.Params)) == 0 {
		return errorResponse(req.ID, "Invalid params: tools/call requires name and arguments"), ""
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("Invalid params: %v", err)), ""
	}
	if strings.TrimSpace(params.Name) == "" {
		return errorResponse(req.ID, "Invalid params: name is required"), ""
	}

	desc, ok := d.registry.Get(params.Name)
	if !ok {
		return errorResponse(req.ID, "Unknown tool: "+params.Name), params.Name
	}
	if err := d.registry.ValidateArguments(desc.Name, params.Arguments); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("Invalid arguments for %s: %v", desc.Name, err)), desc.Name
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	result, err := d.invoke(ctx, desc, args)
	d.observer.ObserveToolCall(ToolCallObservation{
		Tool:     desc.Name,
		Failed:   err != nil,
		Duration: time.Since(start),
	})
	if err != nil {
		return errorResponse(req.ID, err.Error()), desc.Name
	}

	text, err := serializeResult(result)
	if err != nil {
		return errorResponse(req.ID, fmt.Sprintf("Error encoding result of %s: %v", desc.Name, err)), desc.Name
	}
	return resultResponse(req.ID, ToolsCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}), desc.Name
}

// invoke runs the handler, turning a panic into an ordinary error.
func (d *Dispatcher) invoke(ctx context.Context, desc tool.Descriptor, args map[string]any) (result any, err error) {
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked",
				"tool", desc.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result = nil
			err = fmt.Errorf("tool %s failed: %v", desc.Name, r)
		}
	}()
	return desc.Handler.Invoke(ctx, args)
}

// serializeResult renders a handler result as the text of a content block.
func serializeResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		if s, ok := result.(fmt.Stringer); ok {
			return s.String(), nil
		}
		return "", err
	}
	return string(data), nil
}

// recoverID pulls the id out of a body that failed to decode as a request.
func recoverID(raw []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	switch first := firstByte(probe.ID); first {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return probe.ID
	default:
		return nil
	}
}

func firstByte(b []byte) byte {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

const (
	methodLabelInvalid = "invalid"
	methodLabelUnknown = "unknown"
)

func methodLabel(method string) string {
	switch method {
	case MethodInitialize, MethodToolsList, MethodToolsCall:
		return method
	default:
		return methodLabelUnknown
	}
}
