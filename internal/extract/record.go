package extract

import (
	"encoding/json"
	"time"

	"github.com/invoicepipe/invoicepipe/internal/store"
)

// Record is the persisted result of extracting one document. Its field set is
// always exactly the vendor schema's field names; a field the model did not
// produce (or produced unusably) is an explicit null, never absent. Records
// are written wholesale; re-extraction overwrites, never patches.
type Record struct {
	DocumentID  string             `json:"document_id"`
	Vendor      string             `json:"vendor"`
	Fields      map[string]*string `json:"fields"`
	Confidence  *float64           `json:"confidence,omitempty"`
	ExtractedAt time.Time          `json:"extracted_at"`
}

// RecordKey is the deterministic store location for a document's record.
func RecordKey(documentID string) string {
	return store.PrefixExtracted + documentID + ".json"
}

func (r *Record) marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DecodeRecord reads a persisted record back.
func DecodeRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
