// Package eval compares extracted records to ground truth field-by-field
// with a type-aware matching policy and reduces the comparisons into a
// deterministic accuracy report.
package eval

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/invoicepipe/invoicepipe/internal/extract"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

// GroundTruth maps document identity to the verified field values.
type GroundTruth map[string]map[string]*string

type Evaluator struct {
	reg *vendorschema.Registry
	log *slog.Logger
}

func New(reg *vendorschema.Registry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{reg: reg, log: logger}
}

// Evaluate scores every document present in both sets. Documents on one side
// only become unmatched entries. Iteration is lexicographic by document ID
// and schema-ordered by field, so re-runs on unchanged input produce
// identical report content aside from the timestamp.
func (e *Evaluator) Evaluate(records []*extract.Record, gt GroundTruth) *Report {
	byID := make(map[string]*extract.Record, len(records))
	for _, r := range records {
		byID[r.DocumentID] = r
	}

	var bothIDs, extractionOnly, truthOnly []string
	for id := range byID {
		if _, ok := gt[id]; ok {
			bothIDs = append(bothIDs, id)
		} else {
			extractionOnly = append(extractionOnly, id)
		}
	}
	for id := range gt {
		if _, ok := byID[id]; !ok {
			truthOnly = append(truthOnly, id)
		}
	}
	sort.Strings(bothIDs)
	sort.Strings(extractionOnly)
	sort.Strings(truthOnly)

	rep := &Report{GeneratedAt: time.Now().UTC()}
	warned := map[string]bool{}

	for _, id := range bothIDs {
		rec := byID[id]
		schema, err := e.reg.Schema(rec.Vendor)
		if err != nil {
			w := fmt.Sprintf("document %q: no schema for vendor %q; excluded", id, rec.Vendor)
			e.log.Warn("eval.schema_missing", "document", id, "vendor", rec.Vendor)
			rep.Warnings = append(rep.Warnings, w)
			rep.Unmatched = append(rep.Unmatched, Unmatched{DocumentID: id, Side: "extraction_only"})
			continue
		}
		truth := gt[id]

		// Ground-truth fields absent from the schema are configuration
		// drift: warn once per field and exclude from scoring.
		var truthFields []string
		for name := range truth {
			truthFields = append(truthFields, name)
		}
		sort.Strings(truthFields)
		for _, name := range truthFields {
			if _, ok := schema.Field(name); !ok && !warned[schema.Vendor+"/"+name] {
				warned[schema.Vendor+"/"+name] = true
				w := fmt.Sprintf("ground-truth field %q is not in the %s schema; excluded from scoring", name, schema.Vendor)
				e.log.Warn("eval.schema_mismatch", "vendor", schema.Vendor, "field", name)
				rep.Warnings = append(rep.Warnings, w)
			}
		}

		rep.Documents = append(rep.Documents, e.evaluateDocument(id, rec, truth, schema))
	}

	for _, id := range extractionOnly {
		rep.Unmatched = append(rep.Unmatched, Unmatched{DocumentID: id, Side: "extraction_only"})
	}
	for _, id := range truthOnly {
		rep.Unmatched = append(rep.Unmatched, Unmatched{DocumentID: id, Side: "ground_truth_only"})
	}
	sort.Slice(rep.Unmatched, func(i, j int) bool {
		return rep.Unmatched[i].DocumentID < rep.Unmatched[j].DocumentID
	})

	rep.Aggregate = reduce(rep.Documents, len(rep.Unmatched))
	return rep
}

// evaluateDocument compares every schema field the ground truth carries, in
// schema declaration order.
func (e *Evaluator) evaluateDocument(id string, rec *extract.Record, truth map[string]*string, schema *vendorschema.Schema) DocumentResult {
	res := DocumentResult{DocumentID: id, Vendor: rec.Vendor}
	formats := e.reg.DateFormats()

	for _, f := range schema.Fields {
		expected, inTruth := truth[f.Name]
		if !inTruth {
			continue
		}
		actual := rec.Fields[f.Name]
		cmp := compareField(f, expected, actual, formats)
		res.Comparisons = append(res.Comparisons, cmp)
		res.Evaluated++
		if cmp.Match {
			res.Matched++
		}
	}
	if res.Evaluated > 0 {
		res.Score = float64(res.Matched) / float64(res.Evaluated)
	}
	return res
}

// compareField applies the matching policy: exact beats normalized, a null on
// exactly one side is a missing, anything else present-but-unequal is a
// mismatch. Two nulls agree exactly.
func compareField(f vendorschema.Field, expected, actual *string, formats []string) FieldComparison {
	cmp := FieldComparison{FieldName: f.Name, Expected: expected, Actual: actual}
	switch {
	case expected == nil && actual == nil:
		cmp.Match = true
		cmp.Kind = MatchExact
	case expected == nil || actual == nil:
		cmp.Kind = MatchMissing
	case *expected == *actual:
		cmp.Match = true
		cmp.Kind = MatchExact
	case vendorschema.CompareKey(f, *expected, formats) == vendorschema.CompareKey(f, *actual, formats):
		cmp.Match = true
		cmp.Kind = MatchNormalized
	default:
		cmp.Kind = MatchMismatch
	}
	return cmp
}

// reduce derives the aggregate block purely from the per-document entries.
// Overall accuracy is the arithmetic mean of document scores, not a global
// field-match ratio, so one bad document is not diluted by field count.
func reduce(docs []DocumentResult, unmatched int) Aggregate {
	agg := Aggregate{
		PerFieldAccuracy: map[string]float64{},
		Counts:           Counts{Documents: len(docs), Unmatched: unmatched},
	}
	fieldTotal := map[string]int{}
	fieldMatch := map[string]int{}
	var scoreSum float64

	for _, d := range docs {
		scoreSum += d.Score
		for _, c := range d.Comparisons {
			agg.Counts.FieldsEvaluated++
			fieldTotal[c.FieldName]++
			if c.Match {
				agg.Counts.FieldsMatched++
				fieldMatch[c.FieldName]++
			}
		}
	}
	for name, total := range fieldTotal {
		agg.PerFieldAccuracy[name] = float64(fieldMatch[name]) / float64(total)
	}
	if len(docs) > 0 {
		agg.OverallAccuracy = scoreSum / float64(len(docs))
	}
	return agg
}
