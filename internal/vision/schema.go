package vision

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// taggingResponseSchema is the contract the model's JSON must satisfy before
// it is accepted as a tagging payload.
var taggingResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"tags_with_classifications"},
	"properties": map[string]any{
		"tags_with_classifications": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"tag", "classification"},
				"properties": map[string]any{
					"tag":            map[string]any{"type": "string"},
					"classification": map[string]any{"type": "string"},
				},
			},
		},
	},
}

type responseSchema struct {
	schema *jsonschema.Schema
}

func compileResponseSchema() (*responseSchema, error) {
	b, err := json.Marshal(taggingResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tagging_response.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("tagging_response.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &responseSchema{schema: schema}, nil
}

func (s *responseSchema) validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
