package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// schemaFor derives JSON-schema parameter descriptors from a Go args struct.
//
// Supported tags:
//   - json:"name" — parameter name
//   - jsonschema:"required" — mark as required
//   - jsonschema:"description=..." — parameter description
//   - jsonschema:"enum=a|b" — allowed values
func schemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: decode schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// decodeArgs maps loosely-typed invocation arguments onto a typed args struct.
func decodeArgs[T any](args map[string]any) (*T, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}
