package eval

import "time"

type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchMismatch   MatchKind = "mismatch"
	MatchMissing    MatchKind = "missing"
)

// FieldComparison is the audit trail for one field of one document.
type FieldComparison struct {
	FieldName string    `json:"field_name"`
	Expected  *string   `json:"expected"`
	Actual    *string   `json:"actual"`
	Match     bool      `json:"match"`
	Kind      MatchKind `json:"match_kind"`
}

// DocumentResult scores one document present in both the extraction set and
// the ground truth.
type DocumentResult struct {
	DocumentID  string            `json:"document_id"`
	Vendor      string            `json:"vendor"`
	Comparisons []FieldComparison `json:"field_comparisons"`
	Matched     int               `json:"matched"`
	Evaluated   int               `json:"evaluated"`
	Score       float64           `json:"document_score"`
}

// Unmatched documents exist on one side only; they are listed, counted, and
// excluded from field-level scoring.
type Unmatched struct {
	DocumentID string `json:"document_id"`
	Side       string `json:"side"` // "extraction_only" | "ground_truth_only"
}

type Counts struct {
	Documents       int `json:"documents"`
	Unmatched       int `json:"unmatched"`
	FieldsEvaluated int `json:"fields_evaluated"`
	FieldsMatched   int `json:"fields_matched"`
}

// Aggregate metrics are always re-derivable from the per-document entries;
// Evaluate computes them by a single reduction, never by shared counters.
type Aggregate struct {
	PerFieldAccuracy map[string]float64 `json:"per_field_accuracy"`
	OverallAccuracy  float64            `json:"overall_accuracy"`
	Counts           Counts             `json:"counts"`
}

// Report is the full evaluation output.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Documents   []DocumentResult `json:"per_document"`
	Unmatched   []Unmatched      `json:"unmatched,omitempty"`
	Aggregate   Aggregate        `json:"aggregate"`
	Warnings    []string         `json:"warnings,omitempty"`
}
