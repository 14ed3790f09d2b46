// Package sse streams hub events to HTTP clients as Server-Sent Events.
package sse

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/petal-labs/mcpbridge/bus"
)

// HeartbeatInterval is the default interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// Config configures a Handler.
type Config struct {
	Hub *bus.Hub
	// Heartbeat is the interval between ": ping" comments (default: 15s).
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Handler serves one push-channel connection per request. Each connection
// is registered with the hub as a subscriber and receives, in order, the
// connect event and every broadcast made while it is connected.
//
// SSE format:
//
//	id: {ulid}
//	event: {name}
//	data: {payload line}
//
// A heartbeat comment ": ping\n\n" is sent every Heartbeat interval. The
// stream ends when the client disconnects, a write fails, or the hub
// removes the subscriber.
type Handler struct {
	hub       *bus.Hub
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = HeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:       cfg.Hub,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "push channel unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sub.Done():
			return

		case evt := <-sub.Events():
			if err := writeEvent(w, evt); err != nil {
				h.logger.Debug("sse write failed", "subscriber", sub.ID(), "error", err)
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				h.logger.Debug("sse heartbeat failed", "subscriber", sub.ID(), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one event. Multi-line payloads become one data line
// per payload line; CRLF, CR and LF all end a line.
func writeEvent(w io.Writer, evt bus.Event) error {
	var buf bytes.Buffer
	if evt.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", evt.ID)
	}
	fmt.Fprintf(&buf, "event: %s\n", evt.Name)
	data := bytes.ReplaceAll(evt.Data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
