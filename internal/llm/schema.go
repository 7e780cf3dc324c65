package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaFor derives a JSON schema for a handler's argument struct from its
// fields and json tags.
func schemaFor[T any]() (map[string]interface{}, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("derive schema: %w", err)
	}
	return schemaToMap(s)
}

func schemaToMap(s *jsonschema.Schema) (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return m, nil
}

// compileSchema resolves a raw schema once, at registration, so each dispatch
// can validate arguments without re-parsing the schema. A nil map compiles to
// a schema accepting any object.
func compileSchema(raw map[string]interface{}) (*jsonschema.Resolved, error) {
	if raw == nil {
		raw = map[string]interface{}{"type": "object"}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return resolved, nil
}

// schemaRequired pulls the required-property list out of a raw schema in
// whichever shape it was built with.
func schemaRequired(schema map[string]interface{}) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// validateArgs checks a parsed argument document against a resolved schema.
func validateArgs(resolved *jsonschema.Resolved, raw json.RawMessage) error {
	if resolved == nil {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return resolved.Validate(v)
}

// NewTool builds a Tool whose handler takes typed arguments. The input schema
// is derived from T, and the raw argument document is decoded into T before
// the handler runs.
func NewTool[T any](name, description string, limits Limits, fn func(ctx context.Context, args T) (interface{}, error)) (Tool, error) {
	schema, err := schemaFor[T]()
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", name, err)
	}
	return Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Limits:      limits,
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, NewToolErrorf(ErrInvalidParams, "decode arguments: %v", err)
				}
			}
			return fn(ctx, args)
		},
	}, nil
}
