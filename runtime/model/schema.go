package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateAgainstSchema checks that payload conforms to the given JSON schema
// document. Adapters call this at the provider boundary so inner layers only
// ever receive validated records.
func ValidateAgainstSchema(schemaDoc json.RawMessage, payload []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	payloadDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return schema.Validate(payloadDoc)
}

// DecodeValidated validates data against schemaDoc and unmarshals it into v.
// Validation or decode failures are reported as schema-kind provider errors
// so callers can route to their deterministic fallbacks.
func DecodeValidated(provider string, schemaDoc json.RawMessage, data []byte, v any) error {
	if len(schemaDoc) > 0 {
		if err := ValidateAgainstSchema(schemaDoc, data); err != nil {
			return NewProviderError(provider, "decode", 0, KindSchema, "output failed schema validation", false, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewProviderError(provider, "decode", 0, KindSchema, "output is not valid JSON for target type", false, err)
	}
	return nil
}
