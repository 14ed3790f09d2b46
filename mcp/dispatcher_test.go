package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/mcpbridge/tool"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestDispatcher(t *testing.T, defs ...tool.Definition) *Dispatcher {
	t.Helper()
	reg := tool.NewRegistry()
	if _, err := (tool.Scanner{Logger: quietLogger()}).Scan(reg, tool.StaticProvider(defs)); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	reg.Seal()
	d, err := NewDispatcher(DispatcherConfig{
		Registry:   reg,
		ServerInfo: ServerInfo{Name: "payments-mcp-server", Version: "1.0.0"},
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func paymentStatusTool() tool.Definition {
	return tool.Definition{
		Metadata: tool.Metadata{
			Name:        "GetPaymentStatus",
			Description: "Retrieves the status of a payment based on transaction ID.",
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"transactionId": args["transactionId"], "status": "COMPLETED"}, nil
		}),
	}
}

func decodeResult(t *testing.T, resp Response, out any) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("response error = %+v, want result", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestDispatchToolsListMatchesRegistry(t *testing.T) {
	d := newTestDispatcher(t, paymentStatusTool())

	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if string(resp.ID) != "1" {
		t.Fatalf("id = %s, want 1", resp.ID)
	}
	var result ToolsListResult
	decodeResult(t, resp, &result)

	if len(result.Tools) != 1 {
		t.Fatalf("tools = %+v, want 1 entry", result.Tools)
	}
	got := result.Tools[0]
	if got.Name != "GetPaymentStatus" || got.Description != "Retrieves the status of a payment based on transaction ID." {
		t.Fatalf("tool = %+v", got)
	}
	if got.InputSchema["type"] != "object" {
		t.Fatalf("inputSchema = %v, want object schema", got.InputSchema)
	}
}

func TestDispatchToolsListEmptyRegistry(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":"a","method":"tools/list"}`))
	if !strings.Contains(string(resp.Result), `"tools":[]`) {
		t.Fatalf("result = %s, want empty tools array", resp.Result)
	}
	if string(resp.ID) != `"a"` {
		t.Fatalf("id = %s, want \"a\"", resp.ID)
	}
}

func TestDispatchToolsListKeepsOrder(t *testing.T) {
	foo := paymentStatusTool()
	foo.Name = "foo"
	bar := paymentStatusTool()
	bar.Name = "bar"
	d := newTestDispatcher(t, foo, bar)

	var result ToolsListResult
	decodeResult(t, d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)), &result)
	if len(result.Tools) != 2 || result.Tools[0].Name != "foo" || result.Tools[1].Name != "bar" {
		t.Fatalf("tools = %+v, want [foo bar]", result.Tools)
	}
}

func TestDispatchInitialize(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	var result InitializeResult
	decodeResult(t, resp, &result)

	if result.ProtocolVersion != ProtocolVersion {
		t.Fatalf("protocolVersion = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if !result.Capabilities.Tools.ListChanged {
		t.Fatal("capabilities.tools.listChanged = false, want true")
	}
	if result.ServerInfo.Name != "payments-mcp-server" || result.ServerInfo.Version != "1.0.0" {
		t.Fatalf("serverInfo = %+v", result.ServerInfo)
	}
}

func TestDispatchInitializeDefaultsServerName(t *testing.T) {
	d, err := NewDispatcher(DispatcherConfig{Registry: tool.NewRegistry(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	var result InitializeResult
	decodeResult(t, d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"x":1}}`)), &result)
	if result.ServerInfo.Name == "" {
		t.Fatal("serverInfo.name is empty")
	}
}

func TestDispatchToolsCallSuccess(t *testing.T) {
	d := newTestDispatcher(t, paymentStatusTool())

	resp := d.Dispatch(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"GetPaymentStatus","arguments":{"transactionId":"TX-9"}}}`,
	))
	var result ToolsCallResult
	decodeResult(t, resp, &result)

	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("content = %+v, want one text block", result.Content)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &payload); err != nil {
		t.Fatalf("text is not JSON: %v", err)
	}
	if payload["transactionId"] != "TX-9" || payload["status"] != "COMPLETED" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDispatchToolsCallUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, paymentStatusTool())

	resp := d.Dispatch(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"NoSuchTool","arguments":{}}}`,
	))
	if resp.Error == nil {
		t.Fatalf("response = %+v, want error", resp)
	}
	if resp.Error.Code != -1 {
		t.Fatalf("error.code = %d, want -1", resp.Error.Code)
	}
	if resp.Error.Message != "Unknown tool: NoSuchTool" {
		t.Fatalf("error.message = %q", resp.Error.Message)
	}
	if resp.Result != nil {
		t.Fatalf("result = %s, want none", resp.Result)
	}
	if string(resp.ID) != "3" {
		t.Fatalf("id = %s, want 3", resp.ID)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"foo/bar"}`))
	if resp.Error == nil || resp.Error.Code != ErrorCode {
		t.Fatalf("response = %+v, want code -1 error", resp)
	}
	if !strings.Contains(resp.Error.Message, "Unknown method: foo/bar") {
		t.Fatalf("error.message = %q", resp.Error.Message)
	}
}

func TestDispatchToolsCallHandlerFailures(t *testing.T) {
	failing := tool.Definition{
		Metadata: tool.Metadata{Name: "Failing"},
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("account service unavailable")
		}),
	}
	panicking := tool.Definition{
		Metadata: tool.Metadata{Name: "Panicking"},
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (any, error) {
			panic("nil account")
		}),
	}
	d := newTestDispatcher(t, failing, panicking)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "error",
			body:    `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Failing","arguments":{}}}`,
			wantMsg: "account service unavailable",
		},
		{
			name:    "panic",
			body:    `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"Panicking","arguments":{}}}`,
			wantMsg: "nil account",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), []byte(tc.body))
			if resp.Error == nil || resp.Error.Code != -1 {
				t.Fatalf("response = %+v, want code -1 error", resp)
			}
			if !strings.Contains(resp.Error.Message, tc.wantMsg) {
				t.Fatalf("error.message = %q, want %q", resp.Error.Message, tc.wantMsg)
			}
		})
	}
}

func TestDispatchToolsCallInvalidParams(t *testing.T) {
	d := newTestDispatcher(t, paymentStatusTool())

	tests := []struct {
		name   string
		body   string
		prefix string
	}{
		{name: "missing params", body: `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`, prefix: "Invalid params:"},
		{name: "missing name", body: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{}}}`, prefix: "Invalid params:"},
		{name: "wrong type", body: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":5}}`, prefix: "Invalid params:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), []byte(tc.body))
			if resp.Error == nil || !strings.HasPrefix(resp.Error.Message, tc.prefix) {
				t.Fatalf("response = %+v, want %q error", resp, tc.prefix)
			}
		})
	}
}

func TestDispatchToolsCallValidatesArguments(t *testing.T) {
	called := false
	d := newTestDispatcher(t, tool.Definition{
		Metadata: tool.Metadata{
			Name:        "GetAccountBalance",
			InputSchema: tool.ObjectSchema(map[string]string{"accountId": "string"}, "accountId"),
		},
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (any, error) {
			called = true
			return "ok", nil
		}),
	})

	resp := d.Dispatch(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"GetAccountBalance","arguments":{}}}`,
	))
	if resp.Error == nil || !strings.HasPrefix(resp.Error.Message, "Invalid arguments for GetAccountBalance") {
		t.Fatalf("response = %+v, want invalid arguments error", resp)
	}
	if called {
		t.Fatal("handler invoked with invalid arguments")
	}
}

func TestDispatchMalformedBody(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name   string
		body   string
		wantID string
	}{
		{name: "not json", body: `{"jsonrpc":"2.0","id":9,`, wantID: "null"},
		{name: "empty", body: ``, wantID: "null"},
		{name: "bad method type keeps id", body: `{"jsonrpc":"2.0","id":9,"method":12}`, wantID: "9"},
		{name: "array", body: `[1,2]`, wantID: "null"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), []byte(tc.body))
			if resp.Error == nil || resp.Error.Code != -1 {
				t.Fatalf("response = %+v, want code -1 error", resp)
			}
			if !strings.HasPrefix(resp.Error.Message, "Error processing request:") {
				t.Fatalf("error.message = %q", resp.Error.Message)
			}
			if string(resp.ID) != tc.wantID {
				t.Fatalf("id = %s, want %s", resp.ID, tc.wantID)
			}
			data, err := json.Marshal(resp)
			if err != nil {
				t.Fatalf("marshal response: %v", err)
			}
			if !strings.Contains(string(data), `"id":`+tc.wantID) {
				t.Fatalf("envelope = %s", data)
			}
		})
	}
}

func TestDispatchMissingIDEchoesNull(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"initialize"}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"id":null`) {
		t.Fatalf("envelope = %s, want null id", data)
	}
}

func TestDispatchCallTimeout(t *testing.T) {
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Descriptor{
		Name: "Slow",
		Handler: tool.HandlerFunc(func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		}),
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d, err := NewDispatcher(DispatcherConfig{Registry: reg, CallTimeout: 20 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Slow","arguments":{}}}`))
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "deadline exceeded") {
		t.Fatalf("response = %+v, want deadline error", resp)
	}
}

type labeledAmount struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

func (a labeledAmount) String() string { return fmt.Sprintf("%d %s", a.Amount, a.Currency) }

type channelLabel chan int

func (channelLabel) String() string { return "channel" }

func TestSerializeResult(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "plain text", want: "plain text"},
		{name: "raw json", in: json.RawMessage(`{"a":1}`), want: `{"a":1}`},
		{name: "bytes", in: []byte("bytes"), want: "bytes"},
		{name: "map", in: map[string]any{"b": 2}, want: `{"b":2}`},
		{name: "slice", in: []string{"x", "y"}, want: `["x","y"]`},
		{name: "time as json", in: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), want: `"2024-05-01T12:00:00Z"`},
		{name: "stringer struct as json", in: labeledAmount{Amount: 10, Currency: "EUR"}, want: `{"amount":10,"currency":"EUR"}`},
		{name: "unmarshalable stringer", in: channelLabel(make(chan int)), want: "channel"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := serializeResult(tc.in)
			if err != nil {
				t.Fatalf("serializeResult() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("serializeResult() = %q, want %q", got, tc.want)
			}
		})
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	requests []RequestObservation
	calls    []ToolCallObservation
}

func (o *recordingObserver) ObserveRequest(obs RequestObservation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, obs)
}

func (o *recordingObserver) ObserveToolCall(obs ToolCallObservation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, obs)
}

func TestDispatcherReportsObservations(t *testing.T) {
	reg := tool.NewRegistry()
	def := paymentStatusTool()
	if err := reg.Register(tool.Descriptor{Name: def.Name, Handler: def.Handler}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	obs := &recordingObserver{}
	d, err := NewDispatcher(DispatcherConfig{Registry: reg, Observer: obs, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	ctx := context.Background()
	d.Dispatch(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"GetPaymentStatus","arguments":{}}}`))
	d.Dispatch(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"foo/bar"}`))
	d.Dispatch(ctx, []byte(`nope`))

	if len(obs.requests) != 3 {
		t.Fatalf("requests = %+v, want 3", obs.requests)
	}
	wantMethods := []string{MethodToolsCall, "unknown", "invalid"}
	for i, want := range wantMethods {
		if obs.requests[i].Method != want {
			t.Fatalf("requests[%d].Method = %q, want %q", i, obs.requests[i].Method, want)
		}
	}
	if obs.requests[0].Failed || !obs.requests[1].Failed || !obs.requests[2].Failed {
		t.Fatalf("failed flags = %+v", obs.requests)
	}
	if len(obs.calls) != 1 || obs.calls[0].Tool != "GetPaymentStatus" || obs.calls[0].Failed {
		t.Fatalf("calls = %+v", obs.calls)
	}
}

func TestNewDispatcherRequiresRegistry(t *testing.T) {
	if _, err := NewDispatcher(DispatcherConfig{}); err == nil {
		t.Fatal("NewDispatcher() error = nil, want non-nil")
	}
}
