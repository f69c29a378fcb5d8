package bus

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema used to validate bus payloads. A nil
// *Schema accepts every payload, mirroring an all-permissive schema.
type Schema struct {
	compiled *gojsonschema.Schema
	source   string
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(source string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{compiled: compiled, source: source}, nil
}

// MustSchema compiles a JSON schema document and panics on failure. For use
// with schema literals known at build time.
func MustSchema(source string) *Schema {
	s, err := CompileSchema(source)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks value against the schema.
func (s *Schema) Validate(value Payload) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(map[string]any(value)))
	if err != nil {
		return newError("validate", "", err.Error(), ErrSchema)
	}
	if !result.Valid() {
		return newError("validate", "", firstValidationError(result), ErrSchema)
	}
	return nil
}

func firstValidationError(result *gojsonschema.Result) string {
	for _, desc := range result.Errors() {
		return desc.String()
	}
	return "schema validation failed"
}
