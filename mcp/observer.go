package mcp

import "time"

// RequestObservation captures one answered request. Method is one of the
// protocol method names, "unknown" or "invalid".
type RequestObservation struct {
	Method   string
	Failed   bool
	Duration time.Duration
}

// ToolCallObservation captures one handler invocation.
type ToolCallObservation struct {
	Tool     string
	Failed   bool
	Duration time.Duration
}

// Observer receives dispatcher observability events.
type Observer interface {
	ObserveRequest(observation RequestObservation)
	ObserveToolCall(observation ToolCallObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(RequestObservation)   {}
func (noopObserver) ObserveToolCall(ToolCallObservation) {}
