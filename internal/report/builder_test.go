package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicepipe/invoicepipe/internal/eval"
	"github.com/invoicepipe/invoicepipe/internal/store"
)

func ptr(s string) *string { return &s }

func sampleReport() *eval.Report {
	return &eval.Report{
		GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Documents: []eval.DocumentResult{
			{
				DocumentID: "inv-001",
				Vendor:     "Acme_Corp",
				Comparisons: []eval.FieldComparison{
					{FieldName: "invoice_number", Expected: ptr("A"), Actual: ptr("A"), Match: true, Kind: eval.MatchExact},
					{FieldName: "total_amount", Expected: ptr("100.0"), Actual: ptr("100.00"), Match: true, Kind: eval.MatchNormalized},
				},
				Matched: 2, Evaluated: 2, Score: 1.0,
			},
			{
				DocumentID: "inv-002",
				Vendor:     "Acme_Corp",
				Comparisons: []eval.FieldComparison{
					{FieldName: "invoice_number", Expected: ptr("B"), Actual: ptr("C"), Kind: eval.MatchMismatch},
				},
				Matched: 0, Evaluated: 1, Score: 0.0,
			},
		},
		Unmatched: []eval.Unmatched{{DocumentID: "inv-003", Side: "ground_truth_only"}},
		Aggregate: eval.Aggregate{
			PerFieldAccuracy: map[string]float64{"invoice_number": 0.5, "total_amount": 1.0},
			OverallAccuracy:  0.5,
			Counts:           eval.Counts{Documents: 2, Unmatched: 1, FieldsEvaluated: 3, FieldsMatched: 2},
		},
	}
}

func TestBuildPersistsArtifactsWithSharedTimestamp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	b := NewBuilder(st, nil)
	b.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC) }

	arts, err := b.Build(ctx, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, "reports/evaluation_report_20240301_123045.json", arts.JSONKey)
	assert.Equal(t, "reports/evaluation_report_20240301_123045.csv", arts.CSVKey)
	assert.Equal(t, "reports/evaluation_report_20240301_123045.xlsx", arts.XLSXKey)

	keys, err := st.List(ctx, store.PrefixReports)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	jb, err := st.Read(ctx, arts.JSONKey)
	require.NoError(t, err)
	var round eval.Report
	require.NoError(t, json.Unmarshal(jb, &round))
	assert.Equal(t, 2, round.Aggregate.Counts.Documents)

	xb, err := st.Read(ctx, arts.XLSXKey)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(xb[:2]), "xlsx artifact is a zip container")
}

func TestBuildCSVLayout(t *testing.T) {
	cb, err := buildCSV(sampleReport())
	require.NoError(t, err)

	r := csv.NewReader(strings.NewReader(string(cb)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []string{"document_id", "vendor", "score", "invoice_number", "total_amount"}, rows[0])
	assert.Equal(t, []string{"inv-001", "Acme_Corp", "1.0000", "exact", "normalized"}, rows[1])
	assert.Equal(t, []string{"inv-002", "Acme_Corp", "0.0000", "mismatch", ""}, rows[2])

	flat := string(cb)
	assert.Contains(t, flat, "overall_accuracy,0.5000")
	assert.Contains(t, flat, "field_accuracy.invoice_number,0.5000")
	assert.Contains(t, flat, "unmatched.ground_truth_only,inv-003")
}

func TestBuildCSVEmptyReport(t *testing.T) {
	cb, err := buildCSV(&eval.Report{})
	require.NoError(t, err)
	assert.Contains(t, string(cb), "overall_accuracy,0.0000")
}
