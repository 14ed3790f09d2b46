package tool

import (
	"context"
	"encoding/json"
	"maps"
)

// Handler executes one tool invocation. Implementations are owned by the
// collaborator that supplied them; the registry only keeps a reference.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Invoke calls f(ctx, args).
func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Metadata is the collaborator-declared description of a tool.
type Metadata struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

// Definition pairs tool metadata with the handler that implements it.
type Definition struct {
	Metadata
	Handler Handler
}

// Descriptor is the registry's immutable record of one tool.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Info returns the descriptor's metadata with a private copy of the schema.
func (d Descriptor) Info() Metadata {
	return Metadata{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: cloneSchema(d.InputSchema),
	}
}

// DefaultInputSchema is used for tools that do not declare one.
func DefaultInputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// cloneSchema deep-copies a JSON document through a marshal round trip so
// that later mutation by the collaborator cannot leak into the registry.
func cloneSchema(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return maps.Clone(in)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return maps.Clone(in)
	}
	return out
}
