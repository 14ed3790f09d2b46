package status

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/mcpbridge/bus"
	"github.com/petal-labs/mcpbridge/tool"
)

func newRegistry(t *testing.T, names ...string) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	for _, name := range names {
		err := reg.Register(tool.Descriptor{
			Name:        name,
			Description: name + " description",
			Handler: tool.HandlerFunc(func(context.Context, map[string]any) (any, error) {
				return nil, nil
			}),
		})
		if err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}
	reg.Seal()
	return reg
}

func TestReporterStatus(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	defer hub.Close()
	hub.Subscribe()

	r, err := NewReporter(Config{
		Registry: newRegistry(t, "GetPaymentStatus", "GetAccountBalance"),
		Hub:      hub,
	})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	report := r.Status()
	if report.Status != "running" || report.Endpoint != "/sse" {
		t.Fatalf("report = %+v", report)
	}
	if report.DiscoveredTools != 2 || len(report.Tools) != 2 {
		t.Fatalf("tools = %+v", report.Tools)
	}
	if report.Tools[0].Name != "GetPaymentStatus" || report.Tools[0].Description != "GetPaymentStatus description" {
		t.Fatalf("tools[0] = %+v", report.Tools[0])
	}
	if report.Subscribers != 1 {
		t.Fatalf("subscribers = %d, want 1", report.Subscribers)
	}
	if len(report.CatalogDigest) != 64 {
		t.Fatalf("digest = %q, want 64 hex chars", report.CatalogDigest)
	}
}

func TestReporterEmptyCatalog(t *testing.T) {
	r, err := NewReporter(Config{Registry: newRegistry(t), Endpoint: "/events"})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}
	report := r.Status()
	if report.DiscoveredTools != 0 || report.Tools == nil {
		t.Fatalf("report = %+v, want empty non-nil tools", report)
	}
	if report.Endpoint != "/events" {
		t.Fatalf("endpoint = %q", report.Endpoint)
	}
}

func TestCatalogDigestDependsOnOrderAndContent(t *testing.T) {
	digest := func(names ...string) string {
		r, err := NewReporter(Config{Registry: newRegistry(t, names...)})
		if err != nil {
			t.Fatalf("NewReporter() error = %v", err)
		}
		return r.Status().CatalogDigest
	}

	ab := digest("a", "b")
	if ab != digest("a", "b") {
		t.Fatal("digest is not stable")
	}
	if ab == digest("b", "a") {
		t.Fatal("digest ignores order")
	}
	if ab == digest("a", "bb") {
		t.Fatal("digest ignores content")
	}
}

func TestReporterHealth(t *testing.T) {
	r, err := NewReporter(Config{Registry: newRegistry(t)})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}
	if got := r.Health(); got.Status != "healthy" {
		t.Fatalf("Health() = %+v", got)
	}
}

type staticMetrics struct{ doc any }

func (s staticMetrics) Snapshot(context.Context) (any, error) { return s.doc, nil }

func TestReporterMetrics(t *testing.T) {
	r, err := NewReporter(Config{Registry: newRegistry(t)})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}
	if _, err := r.Metrics(context.Background()); !errors.Is(err, ErrNoMetrics) {
		t.Fatalf("Metrics() error = %v, want ErrNoMetrics", err)
	}

	r, err = NewReporter(Config{Registry: newRegistry(t), Metrics: staticMetrics{doc: map[string]int{"x": 1}}})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}
	doc, err := r.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	if doc.(map[string]int)["x"] != 1 {
		t.Fatalf("Metrics() = %v", doc)
	}
}

func TestNewReporterRequiresRegistry(t *testing.T) {
	if _, err := NewReporter(Config{}); err == nil {
		t.Fatal("NewReporter() error = nil, want non-nil")
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/5 * * * *"},
		{expr: "@every 30s"},
		{expr: "@hourly"},
		{expr: "", wantErr: true},
		{expr: "CRON_TZ=UTC * * * * *", wantErr: true},
		{expr: "not a schedule", wantErr: true},
	}
	for _, tc := range tests {
		_, err := ParseSchedule(tc.expr)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseSchedule(%q) error = %v, wantErr %v", tc.expr, err, tc.wantErr)
		}
	}
}

func TestLoggerLogsOnSchedule(t *testing.T) {
	var buf syncBuffer
	r, err := NewReporter(Config{Registry: newRegistry(t, "GetPaymentStatus")})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}
	l, err := NewLogger(LoggerConfig{
		Reporter: r,
		Schedule: "@every 1s",
		Logger:   slog.New(slog.NewTextHandler(&buf, nil)),
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	l.Start()
	l.Start()
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(buf.String(), "bridge status") {
		if time.Now().After(deadline) {
			t.Fatal("no status line logged")
		}
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if !strings.Contains(buf.String(), "tools=GetPaymentStatus") {
		t.Fatalf("log = %s", buf.String())
	}
}

func TestNewLoggerValidates(t *testing.T) {
	r, err := NewReporter(Config{Registry: newRegistry(t)})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}
	if _, err := NewLogger(LoggerConfig{Schedule: "@hourly"}); err == nil {
		t.Fatal("NewLogger() without reporter error = nil")
	}
	if _, err := NewLogger(LoggerConfig{Reporter: r, Schedule: "bogus"}); err == nil {
		t.Fatal("NewLogger() with bad schedule error = nil")
	}
}
