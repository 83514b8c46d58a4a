// Package jobspec parses and validates job submissions written as JSON or YAML.
package jobspec

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/submit.schema.json
var schemaFS embed.FS

const schemaPath = "schema/submit.schema.json"

// ErrInvalid indicates a submission that does not match the schema.
var ErrInvalid = errors.New("invalid job submission")

// Validator checks submissions against the embedded JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the submission schema.
func NewValidator() (*Validator, error) {
	b, err := schemaFS.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("reading embedded schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("submit.schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("submit.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Parse decodes a JSON or YAML document, validates it and returns the request.
func (v *Validator) Parse(data []byte) (models.SubmitRequest, error) {
	var req models.SubmitRequest

	// JSON is a subset of YAML, so one decoder covers both.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if doc == nil {
		return req, fmt.Errorf("%w: empty document", ErrInvalid)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	// Validate against the generic JSON form so numbers compare as JSON numbers.
	var generic any
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := v.schema.Validate(generic); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := json.Unmarshal(normalized, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return req, nil
}

// ParseFile reads and parses a submission file.
func (v *Validator) ParseFile(path string) (models.SubmitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.SubmitRequest{}, fmt.Errorf("read %s: %w", path, err)
	}
	return v.Parse(data)
}

