// Package extract turns a routed document into a typed ExtractionRecord: it
// invokes the document-understanding capability with the vendor's schema as a
// structured contract, normalizes the raw response, and persists the record
// at a deterministic location.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/llm"
	"github.com/invoicepipe/invoicepipe/internal/store"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

type Extractor struct {
	store store.DocumentStore
	inf   llm.Inferrer
	reg   *vendorschema.Registry
	log   *slog.Logger
}

func New(st store.DocumentStore, inf llm.Inferrer, reg *vendorschema.Registry, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: st, inf: inf, reg: reg, log: logger}
}

// VendorFromKey derives the vendor label from a sorted-area key
// ("sorted_invoices/<vendor>/<name>").
func VendorFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, store.PrefixSorted)
	if !ok {
		return "", false
	}
	vendor, _, ok := strings.Cut(rest, "/")
	if !ok || vendor == "" {
		return "", false
	}
	return vendor, true
}

// ExtractKey runs extraction for one sorted-area key and persists the record.
func (e *Extractor) ExtractKey(ctx context.Context, key string) (*Record, error) {
	vendor, ok := VendorFromKey(key)
	if !ok {
		return nil, fmt.Errorf("key %q is not under the sorted area: %w", key, common.ErrInvalidInput)
	}
	schema, err := e.reg.Schema(vendor)
	if err != nil {
		return nil, err
	}
	payload, err := e.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	doc, err := llm.NewDocument(key, payload)
	if err != nil {
		return nil, err
	}

	rec, err := e.Extract(ctx, doc, schema)
	if err != nil {
		return nil, err
	}

	b, err := rec.marshal()
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	recKey := RecordKey(rec.DocumentID)
	if err := e.store.Write(ctx, recKey, b); err != nil {
		return nil, fmt.Errorf("persist record: %w", err)
	}
	e.log.Info("extract.record.persisted", "document", rec.DocumentID, "key", recKey)
	return rec, nil
}

// Extract invokes the model with the vendor contract and normalizes the raw
// response into a Record. Value-level problems (an unparseable amount or
// date) become nulls; only an unusable response fails the document.
func (e *Extractor) Extract(ctx context.Context, doc llm.Document, schema *vendorschema.Schema) (*Record, error) {
	start := time.Now()
	contract := llm.Contract{
		Vendor:     schema.Vendor,
		JSONSchema: vendorschema.BuildContractSchema(schema),
	}

	raw, err := e.inf.Infer(ctx, doc, contract)
	if err != nil {
		return nil, err
	}

	// Shape check: the reply must be a JSON object. Field-level problems
	// become nulls in Normalize, never document failures.
	if b, merr := json.Marshal(raw); merr == nil {
		if verr := vendorschema.Validate(vendorschema.BuildAcceptanceSchema(schema), b); verr != nil {
			return nil, fmt.Errorf("response failed acceptance: %v: %w", verr, common.ErrMalformedResponse)
		}
	}

	fields, dropped := Normalize(raw, schema, e.reg.DateFormats())
	if len(dropped) > 0 {
		e.log.Warn("extract.normalize.dropped", "document", doc.Key, "keys", dropped)
	}

	rec := &Record{
		DocumentID:  store.DocumentID(doc.Key),
		Vendor:      schema.Vendor,
		Fields:      fields,
		Confidence:  confidenceOf(raw),
		ExtractedAt: time.Now().UTC(),
	}
	e.log.Info("extract.ok",
		"document", rec.DocumentID,
		"vendor", rec.Vendor,
		"fields", len(rec.Fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

// Normalize maps a raw model response onto the schema's field set:
//   - keys absent from the schema are dropped (models over-generate),
//   - schema fields absent from the response become nulls,
//   - currency values are fixed to a two-decimal scale, dates to the
//     canonical layout; unparseable values become nulls, not failures.
//
// It returns the normalized fields plus the dropped keys for logging.
func Normalize(raw map[string]json.RawMessage, schema *vendorschema.Schema, dateFormats []string) (map[string]*string, []string) {
	fields := make(map[string]*string, len(schema.Fields))
	for _, f := range schema.Fields {
		fields[f.Name] = nil
		rv, ok := raw[f.Name]
		if !ok {
			continue
		}
		s, ok := scalarString(rv)
		if !ok {
			continue
		}
		if v, ok := vendorschema.NormalizeValue(f, s, dateFormats); ok {
			fields[f.Name] = &v
		}
	}

	var dropped []string
	for k := range raw {
		if _, ok := schema.Field(k); !ok && k != "confidence" {
			dropped = append(dropped, k)
		}
	}
	return fields, dropped
}

// scalarString renders a raw JSON scalar as a string; null and composites
// report not-ok.
func scalarString(rv json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(rv, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func confidenceOf(raw map[string]json.RawMessage) *float64 {
	rv, ok := raw["confidence"]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(rv, &f); err != nil {
		return nil
	}
	if f < 0 || f > 1 {
		return nil
	}
	return &f
}
