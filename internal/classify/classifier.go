// Package classify assigns a vendor label to a document by asking the model
// for the issuing party and resolving the answer against the configured
// vendor set. Classification is a pure function of document content plus
// configuration; it moves nothing.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/invoicepipe/invoicepipe/internal/llm"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

// Unknown is the empty label returned when no configured vendor matches.
const Unknown = ""

type Classifier struct {
	inf llm.Inferrer
	reg *vendorschema.Registry
	log *slog.Logger
}

func New(inf llm.Inferrer, reg *vendorschema.Registry, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{inf: inf, reg: reg, log: logger}
}

// Classify returns the vendor label for a document, or Unknown when the
// model's answer resolves to no configured vendor. An unreadable payload or a
// failed model call is an error, which the router must treat as a routing
// failure rather than Unknown.
func (c *Classifier) Classify(ctx context.Context, key string, payload []byte) (string, error) {
	doc, err := llm.NewDocument(key, payload)
	if err != nil {
		return Unknown, err
	}
	answer, err := c.inf.Answer(ctx, doc, llm.RoutingPrompt)
	if err != nil {
		return Unknown, fmt.Errorf("classify %q: %w", key, err)
	}

	label := c.resolve(answer)
	if label == Unknown {
		c.log.Info("classify.unknown_vendor", "document", key, "answer", answer)
	} else {
		c.log.Info("classify.ok", "document", key, "vendor", label)
	}
	return label, nil
}

// resolve matches the model's seller answer against vendor labels and
// aliases, ignoring case, whitespace and punctuation. Equality wins over
// containment; the first configured vendor wins ties, keeping resolution
// deterministic.
func (c *Classifier) resolve(answer string) string {
	got := foldLabel(answer)
	if got == "" {
		return Unknown
	}
	for _, vendor := range c.reg.Vendors() {
		s, err := c.reg.Schema(vendor)
		if err != nil {
			continue
		}
		for _, cand := range append([]string{vendor}, s.Aliases...) {
			if foldLabel(cand) == got {
				return vendor
			}
		}
	}
	// "Acme Corporation Ltd." still resolves via alias "Acme Corporation".
	// Candidate-in-answer only: a generic fragment like "Corporation" must
	// not pick up the first vendor whose label happens to contain it.
	for _, vendor := range c.reg.Vendors() {
		s, err := c.reg.Schema(vendor)
		if err != nil {
			continue
		}
		for _, cand := range append([]string{vendor}, s.Aliases...) {
			f := foldLabel(cand)
			if len(f) >= 3 && strings.Contains(got, f) {
				return vendor
			}
		}
	}
	return Unknown
}

// foldLabel keeps only letters and digits, lowercased.
func foldLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
