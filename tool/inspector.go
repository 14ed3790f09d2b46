package tool

import "context"

// InspectorToolName is the name of the built-in catalog inspection tool.
const InspectorToolName = "McpInspector"

// Endpointer is implemented by handlers that forward to a known route.
type Endpointer interface {
	Endpoint() string
}

// InspectorEntry is one row of the inspector's output.
type InspectorEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
}

// InspectorProvider exposes the McpInspector tool, which lists every tool
// registered in reg with its endpoint, if the handler has one. The
// registry is read at call time, so the inspector also sees tools
// registered after it.
func InspectorProvider(reg *Registry) Provider {
	return StaticProvider{{
		Metadata: Metadata{
			Name:        InspectorToolName,
			Description: "Lists all discovered MCP tools with their name, description, and endpoint path.",
			InputSchema: DefaultInputSchema(),
		},
		Handler: HandlerFunc(func(ctx context.Context, _ map[string]any) (any, error) {
			entries := make([]InspectorEntry, 0, reg.Len())
			for d := range reg.List() {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				entry := InspectorEntry{Name: d.Name, Description: d.Description}
				if ep, ok := d.Handler.(Endpointer); ok {
					entry.Endpoint = ep.Endpoint()
				}
				entries = append(entries, entry)
			}
			return entries, nil
		}),
	}}
}
