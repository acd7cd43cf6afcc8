// internal/schema/validator.go
// Package schema provides JSON schema validation for inbound request bodies.
// It rejects structurally wrong payloads (non-string fields, non-object bodies)
// before they reach the intake service; semantic checks stay in the service.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Upload is the schema name of the POST /upload body.
const Upload = "witvis.upload"

// uploadSchema only constrains types. Presence of required fields is checked
// after trimming by intake so blank strings get the same answer as missing ones.
const uploadSchema = `{
  "type": "object",
  "properties": {
    "fileBase64": {"type": "string"},
    "fileName":   {"type": "string", "maxLength": 255},
    "username":   {"type": "string", "maxLength": 64},
    "tags":       {"type": "string", "maxLength": 512},
    "location":   {"type": "string", "maxLength": 128},
    "email":      {"type": "string", "maxLength": 254}
  }
}`

// Validator validates request bodies against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of schema names to compiled schemas
}

// NewValidator compiles every known schema.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	if err := v.loadSchema(Upload, uploadSchema); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	return v, nil
}

// loadSchema parses and compiles one schema.
func (v *Validator) loadSchema(name, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", name, err)
	}
	v.schemas[name] = schema
	return nil
}

// Validate checks the raw JSON document against the named schema.
// Returns nil if valid, an error listing every violation otherwise.
func (v *Validator) Validate(name string, document []byte) error {
	schema, exists := v.schemas[name]
	if !exists {
		return fmt.Errorf("schema not found: %s", name)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
