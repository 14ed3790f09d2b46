package tool

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SupportedSchemaDrafts names the JSON Schema dialects accepted for input
// schemas. Draft-04 forms such as a boolean exclusiveMinimum do not decode.
const SupportedSchemaDrafts = "draft 2020-12 or draft-07"

// resolveSchema converts an open-ended schema document into a resolved
// jsonschema value that can validate call arguments.
func resolveSchema(doc map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema (want %s): %w", SupportedSchemaDrafts, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return resolved, nil
}

// ObjectSchema builds an object schema from simple property types, e.g.
// {"transactionId": "string", "limit": "integer"}. Properties listed in
// required must be present on every call.
func ObjectSchema(props map[string]string, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, typ := range props {
		properties[name] = propertySchema(typ)
	}
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, 0, len(required))
		for _, name := range required {
			req = append(req, name)
		}
		out["required"] = req
	}
	return out
}

func propertySchema(typ string) map[string]any {
	switch typ {
	case "int", "int64", "integer":
		return map[string]any{"type": "integer"}
	case "float", "float64", "number":
		return map[string]any{"type": "number"}
	case "bool", "boolean":
		return map[string]any{"type": "boolean"}
	case "object", "map":
		return map[string]any{"type": "object"}
	case "":
		return map[string]any{"type": "string"}
	}
	if len(typ) > 2 && typ[:2] == "[]" {
		return map[string]any{"type": "array", "items": propertySchema(typ[2:])}
	}
	return map[string]any{"type": typ}
}
