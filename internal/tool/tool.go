// Package tool defines schema-described callables the model may
// request, and the dispatcher that executes those requests.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Result is the outcome of a successful tool invocation. Output is
// the string handed back to the model; WidgetType tags rich results
// (image, chart, multiple-choice, ...) for client rendering.
type Result struct {
	Output     string
	WidgetType string
}

// TextResult wraps a plain string output.
func TextResult(output string) *Result {
	return &Result{Output: output}
}

// WidgetResult serializes a structured value into the output string
// and tags it with the given widget type.
func WidgetResult(widgetType string, v any) (*Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s widget: %w", widgetType, err)
	}
	return &Result{Output: string(data), WidgetType: widgetType}, nil
}

// Handler is the type-erased execution function stored on a Tool.
type Handler func(ctx context.Context, input map[string]any) (*Result, error)

// Tool is a named, schema-described callable. Tools carry their own
// execution logic; input binding happens inside Call.
type Tool struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     Handler
}

// Name returns the tool's unique identifier.
func (t *Tool) Name() string { return t.name }

// Description returns the text the model uses to decide when to call
// the tool.
func (t *Tool) Description() string { return t.description }

// Schema returns the JSON schema describing the tool's input.
func (t *Tool) Schema() *jsonschema.Schema { return t.schema }

// Call invokes the tool with the parsed argument mapping.
func (t *Tool) Call(ctx context.Context, input map[string]any) (*Result, error) {
	return t.handler(ctx, input)
}

// New creates a tool with type-safe input handling. The input schema
// is reflected from In; the string-keyed argument mapping is bound to
// In via a JSON round-trip, so In uses ordinary json tags (plus
// jsonschema tags for field descriptions).
func New[In any](name, description string, handler func(ctx context.Context, input In) (*Result, error)) *Tool {
	var zero In
	schema := (&jsonschema.Reflector{
		DoNotReference: true,
	}).Reflect(&zero)

	erased := func(ctx context.Context, input map[string]any) (*Result, error) {
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}
		var typed In
		if err := json.Unmarshal(data, &typed); err != nil {
			return nil, fmt.Errorf("invalid input for %s: %w", name, err)
		}
		return handler(ctx, typed)
	}

	return &Tool{
		name:        name,
		description: description,
		schema:      schema,
		handler:     erased,
	}
}

// SchemaMap renders the tool's input schema as a generic mapping, the
// form vendor SDKs take for function parameters.
func (t *Tool) SchemaMap() (map[string]any, error) {
	encoded, err := json.Marshal(t.schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema for %s: %w", t.name, err)
	}
	params := map[string]any{}
	if err := json.Unmarshal(encoded, &params); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t.name, err)
	}
	return params, nil
}
