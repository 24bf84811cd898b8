package batch

import (
	"fmt"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
)

// Series is one named column of values in canonical representation; a nil
// entry is null.
type Series struct {
	Name string
	Type datatype.DataType
	Data []any
}

// NewSeries creates a series, normalizing each value to t.
func NewSeries(name string, t datatype.DataType, values ...any) (*Series, error) {
	data := make([]any, len(values))
	for i, v := range values {
		n, err := datatype.Normalize(t, v)
		if err != nil {
			return nil, fmt.Errorf("series %s row %d: %w", name, i, err)
		}
		data[i] = n
	}
	return &Series{Name: name, Type: t, Data: data}, nil
}

// Len returns the number of values.
func (s *Series) Len() int { return len(s.Data) }

// Rename returns a copy of the series header with a new name sharing the
// same data.
func (s *Series) Rename(name string) *Series {
	return &Series{Name: name, Type: s.Type, Data: s.Data}
}

// Batch is a set of equal-length series matching a schema.
type Batch struct {
	Schema  *datatype.Schema
	Columns []*Series
}

// New builds a batch from series, deriving the schema from their names and
// types.
func New(columns ...*Series) (*Batch, error) {
	cols := make([]datatype.Column, len(columns))
	for i, c := range columns {
		if i > 0 && c.Len() != columns[0].Len() {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", c.Name, c.Len(), columns[0].Len())
		}
		cols[i] = datatype.Column{Name: c.Name, Type: c.Type}
	}
	schema, err := datatype.NewSchema(cols...)
	if err != nil {
		return nil, err
	}
	return &Batch{Schema: schema, Columns: columns}, nil
}

// FromRows builds a batch from row-major values.
func FromRows(schema *datatype.Schema, rows ...[]any) (*Batch, error) {
	cols := make([]*Series, schema.Len())
	for i := range cols {
		c := schema.Column(i)
		cols[i] = &Series{Name: c.Name, Type: c.Type, Data: make([]any, len(rows))}
	}
	for r, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", r, len(row), len(cols))
		}
		for i, v := range row {
			n, err := datatype.Normalize(cols[i].Type, v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, cols[i].Name, err)
			}
			cols[i].Data[r] = n
		}
	}
	return &Batch{Schema: schema, Columns: cols}, nil
}

// Empty returns a batch with no rows.
func Empty(schema *datatype.Schema) *Batch {
	cols := make([]*Series, schema.Len())
	for i := range cols {
		c := schema.Column(i)
		cols[i] = &Series{Name: c.Name, Type: c.Type, Data: []any{}}
	}
	return &Batch{Schema: schema, Columns: cols}
}

// NumRows returns the number of rows.
func (b *Batch) NumRows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

// Column returns the named column.
func (b *Batch) Column(name string) (*Series, bool) {
	i, ok := b.Schema.Index(name)
	if !ok {
		return nil, false
	}
	return b.Columns[i], true
}

// Row returns the values of row i.
func (b *Batch) Row(i int) []any {
	row := make([]any, len(b.Columns))
	for c, s := range b.Columns {
		row[c] = s.Data[i]
	}
	return row
}

// Rows returns all rows in row-major form.
func (b *Batch) Rows() [][]any {
	rows := make([][]any, b.NumRows())
	for i := range rows {
		rows[i] = b.Row(i)
	}
	return rows
}

// Slice returns rows [offset, offset+length) clamped to the batch.
func (b *Batch) Slice(offset, length int) *Batch {
	n := b.NumRows()
	start := min(max(offset, 0), n)
	end := start + min(max(length, 0), n-start)
	cols := make([]*Series, len(b.Columns))
	for i, s := range b.Columns {
		cols[i] = &Series{Name: s.Name, Type: s.Type, Data: s.Data[start:end:end]}
	}
	return &Batch{Schema: b.Schema, Columns: cols}
}

// Take gathers rows by index. An index of -1 produces a null row.
func (b *Batch) Take(indices []int) *Batch {
	cols := make([]*Series, len(b.Columns))
	for i, s := range b.Columns {
		data := make([]any, len(indices))
		for r, idx := range indices {
			if idx >= 0 {
				data[r] = s.Data[idx]
			}
		}
		cols[i] = &Series{Name: s.Name, Type: s.Type, Data: data}
	}
	return &Batch{Schema: b.Schema, Columns: cols}
}

// Project returns the batch restricted to schema's columns, by name.
func (b *Batch) Project(schema *datatype.Schema) (*Batch, error) {
	cols := make([]*Series, schema.Len())
	for i := range cols {
		name := schema.Column(i).Name
		s, ok := b.Column(name)
		if !ok {
			return nil, fmt.Errorf("batch has no column %s", name)
		}
		cols[i] = s
	}
	return &Batch{Schema: schema, Columns: cols}, nil
}

// Concat appends batches that share a schema.
func Concat(schema *datatype.Schema, batches ...*Batch) *Batch {
	out := Empty(schema)
	for _, b := range batches {
		for i, s := range b.Columns {
			out.Columns[i].Data = append(out.Columns[i].Data, s.Data...)
		}
	}
	return out
}

// String renders the batch as a simple aligned table.
func (b *Batch) String() string {
	names := b.Schema.Names()
	widths := make([]int, len(names))
	cells := make([][]string, b.NumRows())
	for i, n := range names {
		widths[i] = len(n)
	}
	for r := range cells {
		cells[r] = make([]string, len(names))
		for c, s := range b.Columns {
			cells[r][c] = datatype.FormatValue(s.Data[r])
			widths[c] = max(widths[c], len(cells[r][c]))
		}
	}

	var sb strings.Builder
	writeRow := func(values []string) {
		for i, v := range values {
			if i > 0 {
				sb.WriteString(" | ")
			}
			sb.WriteString(v)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(v)))
		}
		sb.WriteString("\n")
	}
	writeRow(names)
	sep := make([]string, len(names))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	writeRow(sep)
	for _, row := range cells {
		writeRow(row)
	}
	return sb.String()
}
