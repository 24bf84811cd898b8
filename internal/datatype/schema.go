package datatype

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	qerrors "github.com/dshills/QuantaFrame/internal/errors"
)

// Column is a named, typed schema entry.
type Column struct {
	Name string
	Type DataType
}

// Schema is an ordered set of uniquely named columns. Schemas are immutable
// once built; methods that change the column set return a new Schema.
//
// Names are compared after Unicode NFC normalization so that composed and
// decomposed spellings of the same name resolve to one column.
type Schema struct {
	columns []Column
	index   map[string]int
}

// NewSchema builds a schema, rejecting duplicate column names.
func NewSchema(columns ...Column) (*Schema, error) {
	s := &Schema{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		key := normalizeName(c.Name)
		if _, dup := s.index[key]; dup {
			return nil, qerrors.DuplicateColumnError(c.Name)
		}
		s.index[key] = i
		s.columns[i] = c
	}
	return s, nil
}

// MustSchema is NewSchema for statically known column sets.
func MustSchema(columns ...Column) *Schema {
	s, err := NewSchema(columns...)
	if err != nil {
		panic(err)
	}
	return s
}

func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Column returns the i-th column.
func (s *Schema) Column(i int) Column {
	return s.columns[i]
}

// Columns returns a copy of the column list.
func (s *Schema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[normalizeName(name)]
	return i, ok
}

// Contains reports whether the schema has the named column.
func (s *Schema) Contains(name string) bool {
	_, ok := s.Index(name)
	return ok
}

// Lookup returns the type of the named column.
func (s *Schema) Lookup(name string) (DataType, bool) {
	i, ok := s.Index(name)
	if !ok {
		return Unknown, false
	}
	return s.columns[i].Type, true
}

// Resolve is Lookup that fails with a schema error naming the available
// columns.
func (s *Schema) Resolve(name string) (int, DataType, error) {
	i, ok := s.Index(name)
	if !ok {
		return -1, Unknown, qerrors.ColumnNotFoundError(name, s.Names())
	}
	return i, s.columns[i].Type, nil
}

// Project returns a schema with only the named columns, in the given order.
func (s *Schema) Project(names []string) (*Schema, error) {
	cols := make([]Column, 0, len(names))
	for _, name := range names {
		i, _, err := s.Resolve(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, s.columns[i])
	}
	return NewSchema(cols...)
}

// Equal reports whether both schemas have the same names and types in the
// same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.columns) != len(o.columns) {
		return false
	}
	for i := range s.columns {
		if normalizeName(s.columns[i].Name) != normalizeName(o.columns[i].Name) ||
			!s.columns[i].Type.Equal(o.columns[i].Type) {
			return false
		}
	}
	return true
}

// String renders the schema as {name: type, ...}.
func (s *Schema) String() string {
	if s == nil {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteString(": ")
		b.WriteString(c.Type.String())
	}
	b.WriteByte('}')
	return b.String()
}
