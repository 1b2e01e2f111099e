// Package vendorschema owns the vendor → field-set contracts used for both
// extraction and evaluation. Schemas are loaded once from YAML configuration
// at process start and are immutable afterwards, so a single Registry is
// shared read-only across all concurrent workers.
package vendorschema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/invoicepipe/invoicepipe/internal/common"
)

type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeDate     FieldType = "date"
	TypeCurrency FieldType = "currency"
	TypeEnum     FieldType = "enum"
)

// Field is one expected invoice field for a vendor.
type Field struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
	Values   []string  `yaml:"values,omitempty"` // enum only
}

// Schema is the ordered, name-unique field contract for one vendor.
type Schema struct {
	Vendor  string   `yaml:"label"`
	Aliases []string `yaml:"aliases,omitempty"`
	Fields  []Field  `yaml:"fields"`

	byName map[string]int
}

// Field returns the definition for name, if the schema declares it.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// FieldNames returns field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Default formats accepted for date fields, tried in order.
var defaultDateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
}

type registryFile struct {
	DateFormats []string  `yaml:"date_formats,omitempty"`
	Vendors     []*Schema `yaml:"vendors"`
}

// Registry maps vendor labels to schemas. Immutable after Load/Parse.
type Registry struct {
	order       []string
	schemas     map[string]*Schema
	dateFormats []string
}

// Load reads the registry from a YAML file. A missing or invalid file is a
// configuration-level error, fatal to the run.
func Load(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "read schema registry", err)
	}
	return Parse(b)
}

// Parse builds the registry from YAML bytes.
func Parse(b []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "decode schema registry", err)
	}
	if len(f.Vendors) == 0 {
		return nil, common.NewAppError("CONFIG_ERROR", "schema registry declares no vendors", common.ErrInvalidInput)
	}

	r := &Registry{
		schemas:     make(map[string]*Schema, len(f.Vendors)),
		dateFormats: f.DateFormats,
	}
	if len(r.dateFormats) == 0 {
		r.dateFormats = defaultDateFormats
	}

	for _, s := range f.Vendors {
		if s.Vendor == "" {
			return nil, common.NewAppError("CONFIG_ERROR", "vendor with empty label", common.ErrInvalidInput)
		}
		if _, dup := r.schemas[s.Vendor]; dup {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("duplicate vendor label %q", s.Vendor), common.ErrInvalidInput)
		}
		if len(s.Fields) == 0 {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("vendor %q declares no fields", s.Vendor), common.ErrInvalidInput)
		}
		s.byName = make(map[string]int, len(s.Fields))
		for i, fld := range s.Fields {
			if fld.Name == "" {
				return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("vendor %q: field with empty name", s.Vendor), common.ErrInvalidInput)
			}
			if _, dup := s.byName[fld.Name]; dup {
				return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("vendor %q: duplicate field %q", s.Vendor, fld.Name), common.ErrInvalidInput)
			}
			switch fld.Type {
			case TypeString, TypeNumber, TypeDate, TypeCurrency:
			case TypeEnum:
				if len(fld.Values) == 0 {
					return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("vendor %q: enum field %q has no values", s.Vendor, fld.Name), common.ErrInvalidInput)
				}
			default:
				return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("vendor %q: field %q has unknown type %q", s.Vendor, fld.Name, fld.Type), common.ErrInvalidInput)
			}
			s.byName[fld.Name] = i
		}
		r.order = append(r.order, s.Vendor)
		r.schemas[s.Vendor] = s
	}
	return r, nil
}

// Schema looks up the schema for a vendor label.
func (r *Registry) Schema(vendor string) (*Schema, error) {
	s, ok := r.schemas[vendor]
	if !ok {
		return nil, fmt.Errorf("vendor %q: %w", vendor, common.ErrUnknownVendorSchema)
	}
	return s, nil
}

// Vendors returns vendor labels in configuration order.
func (r *Registry) Vendors() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DateFormats returns the ordered list of accepted date layouts.
func (r *Registry) DateFormats() []string {
	return r.dateFormats
}
