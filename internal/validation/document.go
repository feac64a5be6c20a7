package validation

import (
	"errors"

	"github.com/rendis/promptchain/pkg/schema"
)

// DocumentValidator runs the two-stage pipeline for chain documents:
// 1. Structural (JSON Schema)
// 2. Semantic (payload checks)
type DocumentValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewDocumentValidator creates a DocumentValidator.
func NewDocumentValidator() (*DocumentValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DocumentValidator{jsonSchema: jsv}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (dv *DocumentValidator) Validate(doc *schema.ChainDocument) *schema.ValidationResult {
	if doc == nil {
		r := &schema.ValidationResult{}
		r.AddError("", schema.ErrCodeValidation, "chain document is nil")
		return r
	}

	result := structuralResult(dv.jsonSchema.ValidateDocument(doc))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(doc))
	return result
}

// ValidateRaw checks the JSON value of a document as read from disk or the
// wire before it is decoded, then decodes it and runs the semantic stage.
func (dv *DocumentValidator) ValidateRaw(value any, doc *schema.ChainDocument) *schema.ValidationResult {
	result := structuralResult(dv.jsonSchema.ValidateRaw(value))
	if !result.Valid() || doc == nil {
		return result
	}
	result.Merge(validateSemantic(doc))
	return result
}

// ValidateDocument satisfies the Validator interface.
func (dv *DocumentValidator) ValidateDocument(doc *schema.ChainDocument) error {
	return dv.Validate(doc).ToError()
}

// ValidateMetadata delegates to the underlying JSONSchemaValidator.
func (dv *DocumentValidator) ValidateMetadata(metadata map[string]any, metadataSchema []byte) error {
	return dv.jsonSchema.ValidateMetadata(metadata, metadataSchema)
}

// structuralResult converts a JSON Schema error into per-violation issues.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var chErr *schema.ChainError
	if !errors.As(err, &chErr) {
		result.AddError("", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := chErr.Details["violations"].([]violation); ok {
		for _, v := range violations {
			result.AddError(v.Path, schema.ErrCodeValidation, v.Message)
		}
		return result
	}
	result.AddError("", schema.ErrCodeValidation, chErr.Message)
	return result
}
