// Package status provides read-only introspection over a bridge's tool
// catalog and push-channel connections.
package status

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/zeebo/blake3"

	"github.com/petal-labs/mcpbridge/bus"
	"github.com/petal-labs/mcpbridge/tool"
)

// Reported status values.
const (
	StatusRunning = "running"
	StatusHealthy = "healthy"
)

// DefaultEndpoint is the push-channel path reported by Status.
const DefaultEndpoint = "/sse"

// ToolSummary is one catalog row in a status report.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Report is the status document.
type Report struct {
	Status          string        `json:"status"`
	Endpoint        string        `json:"endpoint"`
	DiscoveredTools int           `json:"discoveredTools"`
	Tools           []ToolSummary `json:"tools"`
	Subscribers     int           `json:"subscribers"`
	CatalogDigest   string        `json:"catalogDigest"`
}

// Health is the liveness document.
type Health struct {
	Status string `json:"status"`
}

// MetricsSource produces a point-in-time metrics document.
type MetricsSource interface {
	Snapshot(ctx context.Context) (any, error)
}

// ErrNoMetrics is returned by Metrics when no source is configured.
var ErrNoMetrics = errors.New("status: metrics are not enabled")

// Config configures a Reporter.
type Config struct {
	Registry *tool.Registry
	// Hub is optional; without it the subscriber count is zero.
	Hub      *bus.Hub
	Endpoint string
	Metrics  MetricsSource
}

// Reporter answers status, health and metrics queries.
type Reporter struct {
	registry *tool.Registry
	hub      *bus.Hub
	endpoint string
	metrics  MetricsSource
}

// NewReporter creates a Reporter.
func NewReporter(cfg Config) (*Reporter, error) {
	if cfg.Registry == nil {
		return nil, errors.New("status: reporter requires a registry")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Reporter{
		registry: cfg.Registry,
		hub:      cfg.Hub,
		endpoint: endpoint,
		metrics:  cfg.Metrics,
	}, nil
}

// Status returns the current status report.
func (r *Reporter) Status() Report {
	tools := make([]ToolSummary, 0, r.registry.Len())
	digest := blake3.New()
	for d := range r.registry.List() {
		tools = append(tools, ToolSummary{Name: d.Name, Description: d.Description})
		writeDigestEntry(digest, d)
	}
	subscribers := 0
	if r.hub != nil {
		subscribers = r.hub.Len()
	}
	return Report{
		Status:          StatusRunning,
		Endpoint:        r.endpoint,
		DiscoveredTools: len(tools),
		Tools:           tools,
		Subscribers:     subscribers,
		CatalogDigest:   hex.EncodeToString(digest.Sum(nil)),
	}
}

// Health returns the liveness document.
func (r *Reporter) Health() Health {
	return Health{Status: StatusHealthy}
}

// Metrics returns the metrics snapshot from the configured source.
func (r *Reporter) Metrics(ctx context.Context) (any, error) {
	if r.metrics == nil {
		return nil, ErrNoMetrics
	}
	return r.metrics.Snapshot(ctx)
}

// writeDigestEntry feeds one descriptor into the catalog digest. Fields
// are length-prefixed so adjacent values cannot run together.
func writeDigestEntry(h *blake3.Hasher, d tool.Descriptor) {
	schema, err := json.Marshal(d.InputSchema)
	if err != nil {
		schema = nil
	}
	for _, field := range [][]byte{[]byte(d.Name), []byte(d.Description), schema} {
		var size [8]byte
		n := uint64(len(field))
		for i := range size {
			size[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(size[:])
		_, _ = h.Write(field)
	}
}
