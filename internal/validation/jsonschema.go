package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/promptchain/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const chainSchemaURL = "https://promptchain.dev/schemas/chain.json"

// chainSchemaJSON describes the persisted shape of a chain document. Each node
// is one flat record; payload fields of different kinds may coexist so that a
// fork can carry a prompt.
const chainSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://promptchain.dev/schemas/chain.json",
  "type": "object",
  "required": ["name", "nodes"],
  "properties": {
    "name": { "type": "string", "minLength": 1, "maxLength": 200 },
    "description": { "type": "string" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["branch"],
      "properties": {
        "branch": { "type": "integer", "minimum": 0 },
        "promptID": { "type": "integer" },
        "versionID": { "type": "integer" },
        "includeContext": { "type": "boolean" },
        "code": { "type": "string" },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "outputVariable": { "type": "string" },
        "provider": { "type": "string" },
        "model": { "type": "string" },
        "indexName": { "type": "string" },
        "topK": { "type": "integer" },
        "query": { "type": "string" },
        "branches": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string", "pattern": "^[0-9]+$" }
        },
        "loops": {
          "type": "array",
          "items": { "type": "integer", "minimum": 0 }
        }
      },
      "dependentRequired": { "loops": ["branches"] },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates chain documents and caller-supplied metadata
// against JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	chainSchema *jsonschema.Schema

	// mu guards the cache of compiled metadata schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the chain schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(chainSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal chain schema: %w", err)
	}
	if err := c.AddResource(chainSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add chain schema resource: %w", err)
	}

	compiled, err := c.Compile(chainSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile chain schema: %w", err)
	}

	return &JSONSchemaValidator{
		chainSchema: compiled,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates the wire form of a chain document.
func (v *JSONSchemaValidator) ValidateDocument(doc *schema.ChainDocument) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "chain document is nil")
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize chain document").WithCause(err)
	}
	return v.ValidateRaw(value)
}

// ValidateRaw validates an already-decoded JSON value (as produced by
// jsonschema.UnmarshalJSON) against the chain schema. It catches problems
// that decoding into Go types would hide, such as unknown fields.
func (v *JSONSchemaValidator) ValidateRaw(value any) error {
	if err := v.chainSchema.Validate(value); err != nil {
		return toChainError(err)
	}
	return nil
}

// ValidateMetadata validates chain metadata against a JSON Schema provided as
// raw bytes. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateMetadata(metadata map[string]any, metadataSchema []byte) error {
	if len(metadataSchema) == 0 {
		return nil
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	compiled, err := v.getOrCompile(metadataSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid metadata schema").WithCause(err)
	}

	doc, err := toJSONValue(metadata)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize metadata").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toChainError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("promptchain://metadata-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toChainError converts a jsonschema.ValidationError into a ChainError that
// lists every leaf violation with its instance location.
func toChainError(err error) *schema.ChainError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0].String()).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// violation is one leaf of a jsonschema error tree.
type violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v violation) String() string { return v.Path + ": " + v.Message }

func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := ""
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{Path: loc, Message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
