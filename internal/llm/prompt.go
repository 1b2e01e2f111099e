package llm

import (
	"encoding/json"
	"strings"
)

// RoutingPrompt asks only for the issuing party; the classifier resolves the
// answer against the configured vendor set.
const RoutingPrompt = "From this document, extract only the seller's name. Respond with the name and nothing else."

// BuildExtractionPrompt composes the instruction for a structured extraction
// call: target field names and types spelled out, plus the serialized
// JSON-Schema contract.
func BuildExtractionPrompt(c Contract) string {
	parts := []string{
		"You are an invoice parser. Extract the requested fields from the attached invoice for vendor " + c.Vendor + ".",
		"Return ONLY a JSON object that matches the provided JSON Schema. Do not include explanations or formatting like ```json.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Monetary amounts must be plain decimals with at most two decimal places, no currency symbols or thousands separators.",
		"If a field is not present on the invoice, omit it.",
		"JSON Schema:\n" + mustJSON(c.JSONSchema),
	}
	return strings.Join(parts, " ")
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
