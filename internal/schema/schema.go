// Package schema describes the shape of the rows handed to a storage sink: an
// ordered list of named, typed fields. A Schema is immutable once built and
// carries an xxh3 fingerprint so batches can be checked against a locked
// schema without walking every field.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Type is the logical column type. Only string columns exist today; values
// are kept as opaque text so no precision is lost.
type Type string

const TypeString Type = "string"

// Field is a single column of a Schema.
type Field struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Schema is an ordered, immutable set of fields.
type Schema struct {
	fields []Field
	index  map[string]int
	fp     uint64
}

// New builds a Schema from fields. It panics on duplicate or empty names,
// which are programming errors in a record type's declaration.
func New(fields ...Field) *Schema {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	h := xxh3.New()
	for i, f := range s.fields {
		if strings.TrimSpace(f.Name) == "" {
			panic(fmt.Sprintf("schema: field %d has an empty name", i))
		}
		if _, dup := s.index[f.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate field %q", f.Name))
		}
		s.index[f.Name] = i
		_, _ = h.WriteString(f.Name)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(string(f.Type))
		_, _ = h.WriteString(strconv.FormatBool(f.Nullable))
		_, _ = h.Write([]byte{0xff})
	}
	s.fp = h.Sum64()
	return s
}

// Fields returns a copy of the ordered fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Names returns the ordered column names.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of name, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Fingerprint is a stable hash over names, types, nullability and order.
func (s *Schema) Fingerprint() uint64 { return s.fp }

// Equal reports whether two schemas have identical fields in identical order.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || s.fp != o.fp || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}

// Diff describes the first difference between s (expected) and o (actual).
// It returns "" when the schemas are equal.
func (s *Schema) Diff(o *Schema) string {
	switch {
	case s.Equal(o):
		return ""
	case s == nil || o == nil:
		return "one schema is nil"
	}
	n := len(s.fields)
	if len(o.fields) < n {
		n = len(o.fields)
	}
	for i := 0; i < n; i++ {
		if a, b := s.fields[i], o.fields[i]; a != b {
			return fmt.Sprintf("field %d: want %s, got %s", i, a, b)
		}
	}
	return fmt.Sprintf("field count: want %d, got %d", len(s.fields), len(o.fields))
}

// String renders the schema as "name:type[?], ..." where ? marks nullable.
func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

func (f Field) String() string {
	if f.Nullable {
		return f.Name + ":" + string(f.Type) + "?"
	}
	return f.Name + ":" + string(f.Type)
}

// CheckRow validates one row of values against the schema: the value count
// must match and each value must be a string, or nil for nullable fields.
func (s *Schema) CheckRow(row []any) error {
	if len(row) != len(s.fields) {
		return fmt.Errorf("row has %d values, schema has %d fields", len(row), len(s.fields))
	}
	for i, v := range row {
		f := s.fields[i]
		switch v.(type) {
		case nil:
			if !f.Nullable {
				return fmt.Errorf("field %q is not nullable", f.Name)
			}
		case string:
			if f.Type != TypeString {
				return fmt.Errorf("field %q: string value for %s column", f.Name, f.Type)
			}
		default:
			return fmt.Errorf("field %q: unsupported value type %T", f.Name, v)
		}
	}
	return nil
}
