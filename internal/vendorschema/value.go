package vendorschema

import (
	"strconv"
	"strings"
	"time"
)

// CanonicalDate is the canonical layout all date values normalize to.
const CanonicalDate = "2006-01-02"

// NormalizeValue coerces a raw value into the stored form for a field:
// currency → fixed two-decimal string, date → CanonicalDate, number →
// shortest float form, string/enum → trimmed. ok is false when the value
// cannot be coerced; callers record null in that case.
func NormalizeValue(f Field, raw string, dateFormats []string) (string, bool) {
	switch f.Type {
	case TypeCurrency:
		return normalizeCurrency(raw)
	case TypeDate:
		return normalizeDate(raw, dateFormats)
	case TypeNumber:
		return normalizeNumber(raw)
	default:
		s := strings.TrimSpace(raw)
		return s, s != ""
	}
}

// CompareKey maps a value to the form used for normalized-match comparison.
// Two values whose compare keys are equal are a match. The mapping is a pure
// function of (type, value), which makes normalized matching symmetric and
// transitive by construction.
func CompareKey(f Field, raw string, dateFormats []string) string {
	switch f.Type {
	case TypeCurrency:
		if v, ok := normalizeCurrency(raw); ok {
			return v
		}
	case TypeDate:
		if v, ok := normalizeDate(raw, dateFormats); ok {
			return v
		}
	case TypeNumber:
		if v, ok := normalizeNumber(raw); ok {
			return v
		}
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

var currencyStrip = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "",
	",", "", " ", "", " ", "",
)

func normalizeCurrency(raw string) (string, bool) {
	s := currencyStrip.Replace(strings.TrimSpace(raw))
	// accounting negatives: (12.34)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', 2, 64), true
}

func normalizeDate(raw string, formats []string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	for _, layout := range formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(CanonicalDate), true
		}
	}
	return "", false
}

func normalizeNumber(raw string) (string, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}
