// Package report serializes an evaluation report into persisted artifacts:
// a JSON document, a CSV table (one row per document, one column per field),
// and an XLSX workbook. Formatting and persistence only; no scoring logic.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/invoicepipe/invoicepipe/internal/eval"
	"github.com/invoicepipe/invoicepipe/internal/store"
)

// Artifacts names the objects a Build run persisted.
type Artifacts struct {
	JSONKey string `json:"json_key"`
	CSVKey  string `json:"csv_key"`
	XLSXKey string `json:"xlsx_key"`
}

type Builder struct {
	store store.DocumentStore
	log   *slog.Logger
	// now is swappable so tests get stable artifact names
	now func() time.Time
}

func NewBuilder(st store.DocumentStore, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, log: logger, now: time.Now}
}

// Build writes all three artifacts under reports/ with a shared run
// timestamp in the name.
func (b *Builder) Build(ctx context.Context, rep *eval.Report) (Artifacts, error) {
	ts := b.now().UTC().Format("20060102_150405")
	arts := Artifacts{
		JSONKey: store.PrefixReports + "evaluation_report_" + ts + ".json",
		CSVKey:  store.PrefixReports + "evaluation_report_" + ts + ".csv",
		XLSXKey: store.PrefixReports + "evaluation_report_" + ts + ".xlsx",
	}

	jb, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return Artifacts{}, fmt.Errorf("encode report json: %w", err)
	}
	if err := b.store.Write(ctx, arts.JSONKey, jb); err != nil {
		return Artifacts{}, fmt.Errorf("persist json report: %w", err)
	}

	cb, err := buildCSV(rep)
	if err != nil {
		return Artifacts{}, fmt.Errorf("build csv report: %w", err)
	}
	if err := b.store.Write(ctx, arts.CSVKey, cb); err != nil {
		return Artifacts{}, fmt.Errorf("persist csv report: %w", err)
	}

	xb, err := buildXLSX(rep)
	if err != nil {
		return Artifacts{}, fmt.Errorf("build xlsx report: %w", err)
	}
	if err := b.store.Write(ctx, arts.XLSXKey, xb); err != nil {
		return Artifacts{}, fmt.Errorf("persist xlsx report: %w", err)
	}

	b.log.Info("report.persisted",
		"documents", len(rep.Documents),
		"unmatched", len(rep.Unmatched),
		"json", arts.JSONKey,
		"csv", arts.CSVKey,
		"xlsx", arts.XLSXKey,
	)
	return arts, nil
}

// fieldColumns returns the field names appearing across documents, in first
// appearance order. Document order is deterministic and comparisons are
// schema-ordered, so this is stable across runs.
func fieldColumns(rep *eval.Report) []string {
	var cols []string
	seen := map[string]bool{}
	for _, d := range rep.Documents {
		for _, c := range d.Comparisons {
			if !seen[c.FieldName] {
				seen[c.FieldName] = true
				cols = append(cols, c.FieldName)
			}
		}
	}
	return cols
}

func kindByField(d eval.DocumentResult) map[string]eval.MatchKind {
	m := make(map[string]eval.MatchKind, len(d.Comparisons))
	for _, c := range d.Comparisons {
		m[c.FieldName] = c.Kind
	}
	return m
}

func buildCSV(rep *eval.Report) ([]byte, error) {
	cols := fieldColumns(rep)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"document_id", "vendor", "score"}, cols...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, d := range rep.Documents {
		row := []string{d.DocumentID, d.Vendor, formatScore(d.Score)}
		kinds := kindByField(d)
		for _, col := range cols {
			row = append(row, string(kinds[col]))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	// summary block
	_ = w.Write([]string{})
	_ = w.Write([]string{"summary"})
	_ = w.Write([]string{"overall_accuracy", formatScore(rep.Aggregate.OverallAccuracy)})
	_ = w.Write([]string{"documents", strconv.Itoa(rep.Aggregate.Counts.Documents)})
	_ = w.Write([]string{"unmatched", strconv.Itoa(rep.Aggregate.Counts.Unmatched)})
	_ = w.Write([]string{"fields_evaluated", strconv.Itoa(rep.Aggregate.Counts.FieldsEvaluated)})
	_ = w.Write([]string{"fields_matched", strconv.Itoa(rep.Aggregate.Counts.FieldsMatched)})
	for _, col := range cols {
		if acc, ok := rep.Aggregate.PerFieldAccuracy[col]; ok {
			_ = w.Write([]string{"field_accuracy." + col, formatScore(acc)})
		}
	}
	for _, u := range rep.Unmatched {
		_ = w.Write([]string{"unmatched." + u.Side, u.DocumentID})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildXLSX(rep *eval.Report) ([]byte, error) {
	f := excelize.NewFile()
	const docsSheet = "Documents"
	const summarySheet = "Summary"

	idx, err := f.NewSheet(docsSheet)
	if err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	write := func(sheet string, col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	cols := fieldColumns(rep)
	write(docsSheet, 1, 1, "Document")
	write(docsSheet, 2, 1, "Vendor")
	write(docsSheet, 3, 1, "Score")
	for i, c := range cols {
		write(docsSheet, i+4, 1, c)
	}
	row := 2
	for _, d := range rep.Documents {
		write(docsSheet, 1, row, d.DocumentID)
		write(docsSheet, 2, row, d.Vendor)
		write(docsSheet, 3, row, d.Score)
		kinds := kindByField(d)
		for i, c := range cols {
			write(docsSheet, i+4, row, string(kinds[c]))
		}
		row++
	}
	_ = f.SetColWidth(docsSheet, "A", "A", 28)
	_ = f.SetColWidth(docsSheet, "B", "B", 20)

	write(summarySheet, 1, 1, "Metric")
	write(summarySheet, 2, 1, "Value")
	write(summarySheet, 1, 2, "Overall accuracy")
	write(summarySheet, 2, 2, rep.Aggregate.OverallAccuracy)
	write(summarySheet, 1, 3, "Documents scored")
	write(summarySheet, 2, 3, rep.Aggregate.Counts.Documents)
	write(summarySheet, 1, 4, "Unmatched documents")
	write(summarySheet, 2, 4, rep.Aggregate.Counts.Unmatched)
	write(summarySheet, 1, 5, "Fields evaluated")
	write(summarySheet, 2, 5, rep.Aggregate.Counts.FieldsEvaluated)
	write(summarySheet, 1, 6, "Fields matched")
	write(summarySheet, 2, 6, rep.Aggregate.Counts.FieldsMatched)
	srow := 7
	for _, c := range cols {
		if acc, ok := rep.Aggregate.PerFieldAccuracy[c]; ok {
			write(summarySheet, 1, srow, "Accuracy: "+c)
			write(summarySheet, 2, srow, acc)
			srow++
		}
	}
	for _, u := range rep.Unmatched {
		write(summarySheet, 1, srow, "Unmatched ("+u.Side+")")
		write(summarySheet, 2, srow, u.DocumentID)
		srow++
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 32)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
