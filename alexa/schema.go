package alexa

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	envelopeSchemaRef     = "schemas/envelope.json"
	capabilitiesSchemaRef = "schemas/capabilities.json"
)

var (
	schemaOnce     sync.Once
	envelopeSchema *jsonschema.Schema
	capsSchema     *jsonschema.Schema
	schemaErr      error
)

func loadSchemas() {
	envelopeSchema, schemaErr = compileEmbeddedSchema(envelopeSchemaRef)
	if schemaErr != nil {
		return
	}
	capsSchema, schemaErr = compileEmbeddedSchema(capabilitiesSchemaRef)
}

func compileEmbeddedSchema(ref string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("alexa: read schema %s: %w", ref, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(ref, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("alexa: add schema %s: %w", ref, err)
	}
	return c.Compile(ref)
}

// SchemaValidator checks outbound envelopes against the bundled message
// schema.
type SchemaValidator struct{}

func NewSchemaValidator() (*SchemaValidator, error) {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	return &SchemaValidator{}, nil
}

func (v *SchemaValidator) ValidateEnvelope(envelope Envelope) error {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	doc, err := envelope.AsMap()
	if err != nil {
		return fmt.Errorf("alexa: encode envelope: %w", err)
	}
	return envelopeSchema.Validate(doc)
}

// ValidateCapabilities checks a raw JSON capability list.
func ValidateCapabilities(raw []byte) error {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("alexa: decode capabilities: %w", err)
	}
	return capsSchema.Validate(doc)
}

// ValidateCapabilityList encodes capabilities and checks them like
// ValidateCapabilities. A nil list is treated as empty.
func ValidateCapabilityList(capabilities []Capability) error {
	if capabilities == nil {
		capabilities = []Capability{}
	}
	raw, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("alexa: encode capabilities: %w", err)
	}
	return ValidateCapabilities(raw)
}
