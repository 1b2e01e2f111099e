// Package llm defines the document-understanding port. The model is an
// opaque, potentially slow, potentially unavailable remote capability; the
// pipeline owns only request construction and response normalization, and
// tests substitute a deterministic stub.
package llm

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/invoicepipe/invoicepipe/internal/common"
)

// Document is a payload prepared for the model.
type Document struct {
	Key   string
	MIME  string
	Bytes []byte
}

// Contract is the structured output contract for an Infer call.
type Contract struct {
	Vendor     string
	JSONSchema map[string]any
}

// Inferrer is the single capability the pipeline depends on.
type Inferrer interface {
	// Infer asks for structured output per the contract and returns the raw
	// field mapping. Errors wrap common.ErrModelUnavailable (transient) or
	// common.ErrMalformedResponse (response not decodable).
	Infer(ctx context.Context, doc Document, contract Contract) (map[string]json.RawMessage, error)

	// Answer asks a free-form question about the document and returns the
	// model's plain-text reply.
	Answer(ctx context.Context, doc Document, prompt string) (string, error)
}

// NewDocument prepares a store payload for the model: spreadsheets are
// flattened to CSV (models handle CSV text far better than raw XLSX), MIME is
// guessed from the extension with content sniffing as fallback. An empty
// payload is an unreadable document.
func NewDocument(key string, payload []byte) (Document, error) {
	if len(payload) == 0 {
		return Document{}, fmt.Errorf("document %q is empty: %w", key, common.ErrUnreadableDocument)
	}
	if strings.EqualFold(path.Ext(key), ".xlsx") {
		csvBytes, err := xlsxToCSV(payload)
		if err != nil {
			return Document{}, fmt.Errorf("document %q: convert xlsx: %w", key, common.ErrUnreadableDocument)
		}
		return Document{Key: key, MIME: "text/csv", Bytes: csvBytes}, nil
	}
	mt := mime.TypeByExtension(path.Ext(key))
	if mt == "" {
		mt = http.DetectContentType(payload)
	}
	return Document{Key: key, MIME: mt, Bytes: payload}, nil
}

func xlsxToCSV(payload []byte) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractJSONObject returns the outermost {...} span of a model reply,
// tolerating prose or code fences around it.
func ExtractJSONObject(text string) ([]byte, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(text[start : end+1]), true
}
