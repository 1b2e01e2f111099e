package vendorschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildContractSchema returns the JSON-Schema (draft 2020-12 subset) sent to
// the model as the structured output contract for a vendor.
func BuildContractSchema(s *Schema) map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for _, f := range s.Fields {
		props[f.Name] = contractProp(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	out := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func contractProp(f Field) map[string]any {
	switch f.Type {
	case TypeCurrency:
		return map[string]any{"type": "string", "pattern": `^-?\d+(\.\d{1,2})?$`}
	case TypeNumber:
		return map[string]any{"type": "number"}
	case TypeDate:
		return map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
	case TypeEnum:
		return map[string]any{"type": "string", "enum": f.Values}
	default:
		return map[string]any{"type": "string"}
	}
}

// BuildAcceptanceSchema returns the schema a raw model response is validated
// against before normalization: any JSON object. The contract above is what
// we ask the model for; field-level deviations (wrong type, composites) are
// the normalizer's to null out, never grounds for failing the document.
func BuildAcceptanceSchema(s *Schema) map[string]any {
	return map[string]any{"type": "object"}
}

// Validate validates data against schemaMap.
func Validate(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
