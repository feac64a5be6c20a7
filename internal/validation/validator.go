package validation

import "github.com/rendis/promptchain/pkg/schema"

// Validator checks chain documents before they are persisted.
// Uses JSON Schema Draft 2020-12 for the document shape and for optional
// caller-supplied metadata schemas.
type Validator interface {
	ValidateDocument(doc *schema.ChainDocument) error
	ValidateMetadata(metadata map[string]any, metadataSchema []byte) error
}
