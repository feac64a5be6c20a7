package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/promptchain/pkg/schema"
)

// isYAML reports whether path names a YAML file.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// decodeFile reads a JSON or YAML file into v. YAML goes through a generic
// value first so types with their own JSON decoding, like chain nodes, see
// the same shape either way.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return fmt.Errorf("convert %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// readDocument loads a chain document. A file holding a bare node array is
// accepted too; the document is then named after the file.
func readDocument(path string) (*schema.ChainDocument, error) {
	var raw json.RawMessage
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	doc := &schema.ChainDocument{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &doc.Nodes); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		return doc, nil
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// readEdits loads an edit script: a list of edits in JSON or YAML.
func readEdits(path string) ([]schema.Edit, error) {
	var edits []schema.Edit
	if err := decodeFile(path, &edits); err != nil {
		return nil, err
	}
	return edits, nil
}

// encodeDocument renders doc as indented JSON, or YAML when asYAML is set.
func encodeDocument(doc *schema.ChainDocument, asYAML bool) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	if !asYAML {
		return append(data, '\n'), nil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
