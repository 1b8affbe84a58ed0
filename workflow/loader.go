package workflow

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed document.schema.json
var documentSchemaJSON []byte

var documentSchema = gojsonschema.NewBytesLoader(documentSchemaJSON)

// FromJSON parses a workflow document from JSON. The bytes are validated
// against the embedded document schema before unmarshaling, then the
// document goes through Validate. Schema violations and Validate problems
// are reported as *SchemaError; bytes that are not JSON, or that do not
// decode into a Document (for example a malformed condition), return a
// plain wrapped error.
func FromJSON(data []byte) (*Document, error) {
	result, err := gojsonschema.Validate(documentSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("workflow document schema validation failed: %w", err)
	}
	if !result.Valid() {
		serr := &SchemaError{}
		for _, desc := range result.Errors() {
			serr.Problems = append(serr.Problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		// Best effort at naming the workflow in the error.
		var probe struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(data, &probe)
		serr.WorkflowID = probe.ID
		return nil, serr
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	return Validate(&doc)
}

// FromYAML parses a workflow document from YAML by converting it to JSON
// first, so both formats share the same schema validation path.
func FromYAML(data []byte) (*Document, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse workflow YAML: %w", err)
	}
	jsonData, err := json.Marshal(normalizeYAML(tree))
	if err != nil {
		return nil, fmt.Errorf("convert workflow YAML: %w", err)
	}
	return FromJSON(jsonData)
}

// normalizeYAML rewrites yaml.v3's map[string]any trees so nested
// map[any]any nodes (possible with non-string keys) marshal as JSON.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprintf("%v", key)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return value
	}
}
