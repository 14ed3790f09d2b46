package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/petal-labs/mcpbridge/bus"
	"github.com/petal-labs/mcpbridge/mcp"
	"github.com/petal-labs/mcpbridge/status"
)

// handleHealth returns the liveness document.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Health())
}

// handleStatus returns the status report.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	doc, err := s.reporter.Metrics(r.Context())
	if errors.Is(err, status.ErrNoMetrics) {
		writeError(w, http.StatusNotFound, "METRICS_DISABLED", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "METRICS_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleTools returns the catalog in the same shape as tools/list.
func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	result := mcp.ToolsListResult{Tools: make([]mcp.Tool, 0, s.registry.Len())}
	for d := range s.registry.List() {
		result.Tools = append(result.Tools, mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMessage dispatches one request envelope. The response envelope is
// returned with status 200, protocol errors included, and the same bytes
// are broadcast to every subscriber as a message event.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), body)
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response envelope", "error", err)
		writeError(w, http.StatusInternalServerError, "ENCODE_ERROR", err.Error())
		return
	}

	delivered := s.hub.Broadcast(bus.EventMessage, payload)
	s.logger.Debug("response broadcast", "id", string(resp.ID), "subscribers", delivered)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
