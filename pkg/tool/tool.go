// Package tool defines the callable tools a Conductor can hand to a model,
// a registry that executes them by name, and the builtin tool set.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/muthuks2020/reasona/pkg/llm/provider"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrDuplicateTool     = errors.New("tool already registered")
	ErrInvalidArguments  = errors.New("invalid tool arguments")
	ErrInvalidToolConfig = errors.New("invalid tool definition")
)

// Tool is a named function a model may call with JSON arguments.
type Tool interface {
	Name() string
	Description() string

	// Schema is the JSON Schema of the arguments object
	Schema() json.RawMessage

	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// FunctionTool adapts a typed Go function into a Tool. The argument schema is
// reflected from T.
//
// Supported struct tags:
//   - json:"name" - argument name
//   - jsonschema:"required" - mark the argument as required
//   - jsonschema:"description=..." - argument description
//   - jsonschema:"enum=a,enum=b" - allowed values
type FunctionTool[T any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(context.Context, T) (any, error)
}

// NewFunctionTool creates a tool whose arguments decode into T.
func NewFunctionTool[T any](name, description string, fn func(context.Context, T) (any, error)) (*FunctionTool[T], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidToolConfig)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s has no function", ErrInvalidToolConfig, name)
	}
	schema, err := generateSchema[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return &FunctionTool[T]{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}, nil
}

// MustFunctionTool is NewFunctionTool that panics on error, for package-level
// tool definitions.
func MustFunctionTool[T any](name, description string, fn func(context.Context, T) (any, error)) *FunctionTool[T] {
	t, err := NewFunctionTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *FunctionTool[T]) Name() string            { return t.name }
func (t *FunctionTool[T]) Description() string     { return t.description }
func (t *FunctionTool[T]) Schema() json.RawMessage { return t.schema }

// Execute decodes args into T and calls the wrapped function. Empty or null
// arguments decode to the zero value.
func (t *FunctionTool[T]) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var in T
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidArguments, t.name, err)
		}
	}
	return t.fn(ctx, in)
}

// generateSchema reflects T into an inline object schema without $schema or
// $id keys.
func generateSchema[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	raw, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	if m["type"] == "object" && m["properties"] == nil {
		m["properties"] = map[string]any{}
	}
	return json.Marshal(m)
}

// ToProvider converts a tool into the provider-level declaration.
func ToProvider(t Tool) provider.Tool {
	return provider.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// ToProviderTools converts tools in order.
func ToProviderTools(tools []Tool) []provider.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]provider.Tool, len(tools))
	for i, t := range tools {
		out[i] = ToProvider(t)
	}
	return out
}

// FormatResult renders a tool result as the text of a tool message. Strings
// pass through; everything else is JSON encoded.
func FormatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return "null"
	case string:
		return r
	case []byte:
		return string(r)
	case json.RawMessage:
		return string(r)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// FormatError renders a failed call as the text of a tool message.
func FormatError(err error) string {
	data, _ := json.Marshal(map[string]any{
		"error":   err.Error(),
		"success": false,
	})
	return string(data)
}
