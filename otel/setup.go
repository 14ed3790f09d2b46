package otel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/petal-labs/mcpbridge"

// Config configures Setup.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, exports spans over OTLP/HTTP to this URL.
	OTLPEndpoint string
	// Global installs the tracer provider as the otel global.
	Global bool
}

// Telemetry owns the meter and tracer providers of one bridge process.
type Telemetry struct {
	reader         *sdkmetric.ManualReader
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	observer       *Observer
}

// Setup creates the providers. Metrics are always collected in-process and
// read on demand through Snapshot.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "mcpbridge"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	res := resource.NewSchemaless(attrs...)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	observer, err := NewObserver(mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("otel: creating instruments: %w", err)
	}

	t := &Telemetry{
		reader:        reader,
		meterProvider: mp,
		observer:      observer,
	}

	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, fmt.Errorf("otel: creating otlp exporter: %w", err)
		}
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		if cfg.Global {
			otel.SetTracerProvider(t.tracerProvider)
		}
	}
	return t, nil
}

// Observer returns the instrumented observer.
func (t *Telemetry) Observer() *Observer {
	return t.observer
}

// Tracer returns a tracer from the exporting provider, or the global one
// when no exporter is configured.
func (t *Telemetry) Tracer() trace.Tracer {
	if t.tracerProvider == nil {
		return otel.Tracer(instrumentationName)
	}
	return t.tracerProvider.Tracer(instrumentationName)
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	errs = append(errs, t.meterProvider.Shutdown(ctx))
	return errors.Join(errs...)
}

// MetricPoint is one attribute set of an instrument.
type MetricPoint struct {
	Attributes map[string]any `json:"attributes,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	Count      *uint64        `json:"count,omitempty"`
	Sum        *float64       `json:"sum,omitempty"`
}

// MetricSnapshot is the collected state of one instrument.
type MetricSnapshot struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Unit        string        `json:"unit,omitempty"`
	Points      []MetricPoint `json:"points"`
}

// Snapshot collects current metric values. It implements
// status.MetricsSource.
func (t *Telemetry) Snapshot(ctx context.Context) (any, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("otel: collecting metrics: %w", err)
	}
	snapshots := make([]MetricSnapshot, 0)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			snapshots = append(snapshots, MetricSnapshot{
				Name:        m.Name,
				Description: m.Description,
				Unit:        m.Unit,
				Points:      pointsOf(m.Data),
			})
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots, nil
}

func pointsOf(data metricdata.Aggregation) []MetricPoint {
	points := make([]MetricPoint, 0)
	switch agg := data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range agg.DataPoints {
			v := float64(dp.Value)
			points = append(points, MetricPoint{Attributes: attributesOf(dp.Attributes), Value: &v})
		}
	case metricdata.Sum[float64]:
		for _, dp := range agg.DataPoints {
			v := dp.Value
			points = append(points, MetricPoint{Attributes: attributesOf(dp.Attributes), Value: &v})
		}
	case metricdata.Gauge[int64]:
		for _, dp := range agg.DataPoints {
			v := float64(dp.Value)
			points = append(points, MetricPoint{Attributes: attributesOf(dp.Attributes), Value: &v})
		}
	case metricdata.Gauge[float64]:
		for _, dp := range agg.DataPoints {
			v := dp.Value
			points = append(points, MetricPoint{Attributes: attributesOf(dp.Attributes), Value: &v})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range agg.DataPoints {
			count, sum := dp.Count, dp.Sum
			points = append(points, MetricPoint{Attributes: attributesOf(dp.Attributes), Count: &count, Sum: &sum})
		}
	}
	return points
}

func attributesOf(set attribute.Set) map[string]any {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]any, set.Len())
	for _, kv := range set.ToSlice() {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
