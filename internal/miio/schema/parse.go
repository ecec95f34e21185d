package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed device-schema.json
var documentSchemaJSON []byte

const documentSchemaURL = "https://schemas.graylogic.local/miio/device-schema.json"

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

// compiledDocumentSchema compiles the embedded JSON Schema once.
func compiledDocumentSchema() (*jsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(documentSchemaJSON))
		if err != nil {
			documentSchemaErr = fmt.Errorf("unmarshal document schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(documentSchemaURL, doc); err != nil {
			documentSchemaErr = fmt.Errorf("add document schema: %w", err)
			return
		}
		documentSchema, documentSchemaErr = c.Compile(documentSchemaURL)
	})
	return documentSchema, documentSchemaErr
}

// Parse validates a schema document and decodes its deviceMapping.
//
// Returns:
//   - *DeviceSchema: decoded schema with defaults applied
//   - error: ErrSchemaParse wrapping the decode or validation failure
func Parse(data []byte) (*DeviceSchema, error) {
	validator, err := compiledDocumentSchema()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaParse, err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaParse, err)
	}
	if err := validator.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaParse, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaParse, err)
	}

	s := doc.DeviceMapping
	s.applyDefaults()
	return &s, nil
}

// modelsOf extracts the model list from a document without full validation.
// Used when indexing a store; malformed documents yield nil.
func modelsOf(data []byte) []string {
	var head struct {
		DeviceMapping struct {
			ID []string `json:"id"`
		} `json:"deviceMapping"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil
	}
	return head.DeviceMapping.ID
}
