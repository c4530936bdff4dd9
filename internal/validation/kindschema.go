// Package validation checks kind configuration documents and raw task
// declarations before they enter the graph. Uses JSON Schema Draft 2020-12.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/latticeci/lattice/pkg/schema"
)

// kindConfigSchemaJSON is the JSON Schema for kind configuration files.
// Embedded as a constant to avoid filesystem dependencies.
const kindConfigSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://lattice.dev/schemas/kind.json",
  "type": "object",
  "required": ["loader"],
  "properties": {
    "loader": {
      "type": "string",
      "minLength": 1
    },
    "kind_dependencies": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "rebuild_schedule": {
      "type": "string"
    },
    "always_target": {
      "type": "boolean"
    },
    "config": {
      "type": "object"
    }
  },
  "additionalProperties": false
}`

// declarationSchemaJSON is the JSON Schema for a raw task declaration as
// produced by a kind loader.
const declarationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://lattice.dev/schemas/declaration.json",
  "type": "object",
  "required": ["label"],
  "properties": {
    "label": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "attributes": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "payload": {},
    "dependencies": {
      "type": "object",
      "additionalProperties": { "type": "string", "minLength": 1 }
    },
    "soft_dependencies": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "if_dependencies": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "optimization": {
      "type": "object",
      "required": ["strategy"],
      "properties": {
        "strategy": { "type": "string", "minLength": 1 },
        "arg": {}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

// KindValidator validates kind configs and task declarations against their
// schemas. Safe for concurrent use: compiled schemas are immutable.
type KindValidator struct {
	kindSchema *jsonschema.Schema
	declSchema *jsonschema.Schema
}

// NewKindValidator compiles the embedded schemas.
func NewKindValidator() (*KindValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	kindSchema, err := compileResource(c, "https://lattice.dev/schemas/kind.json", kindConfigSchemaJSON)
	if err != nil {
		return nil, err
	}
	declSchema, err := compileResource(c, "https://lattice.dev/schemas/declaration.json", declarationSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &KindValidator{kindSchema: kindSchema, declSchema: declSchema}, nil
}

func compileResource(c *jsonschema.Compiler, url, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// ValidateKindConfig validates a decoded kind configuration document.
func (v *KindValidator) ValidateKindConfig(kind string, doc any) error {
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "kind %s: config is not serializable", kind).WithCause(err)
	}
	if err := v.kindSchema.Validate(value); err != nil {
		return toLatticeError(err).WithDetails(map[string]any{"kind": kind})
	}
	return nil
}

// ValidateDeclaration validates a raw task declaration.
func (v *KindValidator) ValidateDeclaration(decl *schema.Declaration) error {
	value, err := toJSONValue(decl)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "declaration is not serializable").WithCause(err)
	}
	if err := v.declSchema.Validate(value); err != nil {
		return toLatticeError(err).WithLabel(decl.Label)
	}
	return nil
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

// toLatticeError converts a jsonschema.ValidationError into a LatticeError
// with the leaf violations collected into details.
func toLatticeError(err error) *schema.LatticeError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
