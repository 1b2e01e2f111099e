package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicepipe/invoicepipe/internal/extract"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

const registryYAML = `
vendors:
  - label: Acme_Corp
    fields:
      - {name: invoice_number, type: string, required: true}
      - {name: invoice_date, type: date, required: true}
      - {name: total_amount, type: currency, required: true}
      - {name: po_number, type: string}
`

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	reg, err := vendorschema.Parse([]byte(registryYAML))
	require.NoError(t, err)
	return New(reg, nil)
}

func ptr(s string) *string { return &s }

func record(id string, fields map[string]*string) *extract.Record {
	return &extract.Record{DocumentID: id, Vendor: "Acme_Corp", Fields: fields}
}

func TestEvaluateMatchKinds(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{record("doc-1", map[string]*string{
		"invoice_number": ptr("INV-001"),
		"invoice_date":   ptr("2024-01-05"),
		"total_amount":   ptr("1200.00"),
		"po_number":      nil,
	})}
	gt := GroundTruth{"doc-1": {
		"invoice_number": ptr("inv-001"),    // case fold: normalized
		"invoice_date":   ptr("01/05/2024"), // layout fold: normalized
		"total_amount":   ptr("$1,200.00"),  // currency fold: normalized
		"po_number":      ptr("PO-9"),       // extraction null: missing
	}}

	rep := e.Evaluate(recs, gt)
	require.Len(t, rep.Documents, 1)
	doc := rep.Documents[0]
	require.Len(t, doc.Comparisons, 4)

	kinds := map[string]MatchKind{}
	for _, c := range doc.Comparisons {
		kinds[c.FieldName] = c.Kind
	}
	assert.Equal(t, MatchNormalized, kinds["invoice_number"])
	assert.Equal(t, MatchNormalized, kinds["invoice_date"])
	assert.Equal(t, MatchNormalized, kinds["total_amount"])
	assert.Equal(t, MatchMissing, kinds["po_number"])
	assert.Equal(t, 3, doc.Matched)
	assert.InDelta(t, 0.75, doc.Score, 1e-9)
}

func TestEvaluateTrailingZeroAmountsAreNormalized(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{record("d", map[string]*string{
		"total_amount": ptr("100.00"),
	})}
	gt := GroundTruth{"d": {"total_amount": ptr("100.0")}}

	rep := e.Evaluate(recs, gt)
	require.Len(t, rep.Documents, 1)
	require.Len(t, rep.Documents[0].Comparisons, 1)
	assert.Equal(t, MatchNormalized, rep.Documents[0].Comparisons[0].Kind)
}

func TestEvaluateTwoNullsAgreeExactly(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{record("d", map[string]*string{"po_number": nil})}
	gt := GroundTruth{"d": {"po_number": nil}}

	rep := e.Evaluate(recs, gt)
	require.Len(t, rep.Documents[0].Comparisons, 1)
	c := rep.Documents[0].Comparisons[0]
	assert.True(t, c.Match)
	assert.Equal(t, MatchExact, c.Kind)
}

func TestEvaluateMismatch(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{record("d", map[string]*string{
		"total_amount": ptr("1200.00"),
	})}
	gt := GroundTruth{"d": {"total_amount": ptr("1300.00")}}

	rep := e.Evaluate(recs, gt)
	c := rep.Documents[0].Comparisons[0]
	assert.False(t, c.Match)
	assert.Equal(t, MatchMismatch, c.Kind)
}

// Overall accuracy is the mean of document scores. A perfect small document
// and an all-wrong large one average to 0.5 regardless of field counts.
func TestOverallAccuracyIsMeanOfDocumentScores(t *testing.T) {
	small := DocumentResult{DocumentID: "small", Matched: 2, Evaluated: 2, Score: 1.0}
	large := DocumentResult{DocumentID: "large", Matched: 0, Evaluated: 8, Score: 0.0}
	for i := 0; i < 2; i++ {
		small.Comparisons = append(small.Comparisons, FieldComparison{FieldName: "a", Match: true, Kind: MatchExact})
	}
	for i := 0; i < 8; i++ {
		large.Comparisons = append(large.Comparisons, FieldComparison{FieldName: "b", Kind: MatchMismatch})
	}

	agg := reduce([]DocumentResult{small, large}, 0)
	assert.InDelta(t, 0.5, agg.OverallAccuracy, 1e-9)
	assert.Equal(t, 10, agg.Counts.FieldsEvaluated)
	assert.Equal(t, 2, agg.Counts.FieldsMatched)
	assert.InDelta(t, 1.0, agg.PerFieldAccuracy["a"], 1e-9)
	assert.InDelta(t, 0.0, agg.PerFieldAccuracy["b"], 1e-9)
}

func TestEvaluateUnmatchedSides(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{
		record("both", map[string]*string{"invoice_number": ptr("X")}),
		record("only-extracted", map[string]*string{"invoice_number": ptr("Y")}),
	}
	gt := GroundTruth{
		"both":       {"invoice_number": ptr("X")},
		"only-truth": {"invoice_number": ptr("Z")},
	}

	rep := e.Evaluate(recs, gt)
	require.Len(t, rep.Documents, 1)
	assert.Equal(t, "both", rep.Documents[0].DocumentID)

	require.Len(t, rep.Unmatched, 2)
	assert.Equal(t, Unmatched{DocumentID: "only-extracted", Side: "extraction_only"}, rep.Unmatched[0])
	assert.Equal(t, Unmatched{DocumentID: "only-truth", Side: "ground_truth_only"}, rep.Unmatched[1])
	assert.Equal(t, 2, rep.Aggregate.Counts.Unmatched)
	assert.InDelta(t, 1.0, rep.Aggregate.OverallAccuracy, 1e-9, "unmatched documents do not drag the mean")
}

func TestEvaluateWarnsOnGroundTruthFieldOutsideSchema(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{
		record("d1", map[string]*string{"invoice_number": ptr("A")}),
		record("d2", map[string]*string{"invoice_number": ptr("B")}),
	}
	gt := GroundTruth{
		"d1": {"invoice_number": ptr("A"), "tax_rate": ptr("0.2")},
		"d2": {"invoice_number": ptr("B"), "tax_rate": ptr("0.2")},
	}

	rep := e.Evaluate(recs, gt)
	require.Len(t, rep.Warnings, 1, "warn once per vendor/field pair")
	assert.Contains(t, rep.Warnings[0], "tax_rate")
	for _, d := range rep.Documents {
		for _, c := range d.Comparisons {
			assert.NotEqual(t, "tax_rate", c.FieldName, "off-schema field excluded from scoring")
		}
	}
}

func TestEvaluateUnknownVendorRecordBecomesUnmatched(t *testing.T) {
	e := testEvaluator(t)
	recs := []*extract.Record{{
		DocumentID: "d",
		Vendor:     "Initech",
		Fields:     map[string]*string{"invoice_number": ptr("A")},
	}}
	gt := GroundTruth{"d": {"invoice_number": ptr("A")}}

	rep := e.Evaluate(recs, gt)
	assert.Empty(t, rep.Documents)
	require.Len(t, rep.Unmatched, 1)
	assert.Equal(t, "extraction_only", rep.Unmatched[0].Side)
	require.Len(t, rep.Warnings, 1)
}
