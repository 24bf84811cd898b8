// Package sqlsource scans tables of a database/sql connection, pushing
// projections, predicates and slices into the generated SELECT.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/source"
)

const defaultBatchSize = 1024

// Source is a table in a SQL database.
type Source struct {
	db      *sql.DB
	dialect Dialect
	table   string
	schema  *datatype.Schema
	rows    atomic.Int64 // -1 until analyzed
}

// New wraps an existing table with a known schema.
func New(db *sql.DB, dialect Dialect, table string, schema *datatype.Schema) *Source {
	s := &Source{db: db, dialect: dialect, table: table, schema: schema}
	s.rows.Store(-1)
	return s
}

// Open introspects table and returns a source for it.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*Source, error) {
	schema, err := Introspect(ctx, db, dialect, table)
	if err != nil {
		return nil, err
	}
	return New(db, dialect, table, schema), nil
}

// Introspect reads the column names and types of table.
func Introspect(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*datatype.Schema, error) {
	query := "SELECT * FROM " + dialect.QuoteIdentifier(table) + " LIMIT 0"
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types of %s: %w", table, err)
	}
	cols := make([]datatype.Column, len(types))
	for i, ct := range types {
		cols[i] = datatype.Column{Name: ct.Name(), Type: mapType(ct.DatabaseTypeName())}
	}
	return datatype.NewSchema(cols...)
}

func mapType(name string) datatype.DataType {
	name = strings.ToUpper(name)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "INTEGER", "INT", "INT8", "BIGINT", "BIGSERIAL":
		return datatype.Int64
	case "INT4", "SERIAL", "MEDIUMINT":
		return datatype.Int32
	case "INT2", "SMALLINT":
		return datatype.Int16
	case "REAL", "FLOAT", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "NUMERIC", "DECIMAL":
		return datatype.Float64
	case "FLOAT4":
		return datatype.Float32
	case "BOOL", "BOOLEAN":
		return datatype.Boolean
	case "DATE":
		return datatype.Date
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME":
		return datatype.Datetime(datatype.Microseconds)
	case "BLOB", "BYTEA":
		return datatype.Binary
	}
	return datatype.String
}

// Analyze counts the rows of the table so the planner can use the figure.
func (s *Source) Analyze(ctx context.Context) error {
	var n int64
	query := "SELECT COUNT(*) FROM " + s.dialect.QuoteIdentifier(s.table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return fmt.Errorf("failed to count rows of %s: %w", s.table, err)
	}
	s.rows.Store(n)
	return nil
}

func (s *Source) Name() string             { return s.table }
func (s *Source) Schema() *datatype.Schema { return s.schema }

func (s *Source) Statistics() (int64, bool) {
	n := s.rows.Load()
	return n, n >= 0
}

// SupportsPredicate reports whether pred renders to SQL.
func (s *Source) SupportsPredicate(pred expr.Expr) bool {
	r := &renderer{dialect: s.dialect, schema: s.schema}
	_, err := r.render(pred)
	return err == nil
}

func (s *Source) Scan(ctx context.Context, req source.ScanRequest) (batch.Stream, error) {
	schema, err := source.OutputSchema(s, req)
	if err != nil {
		return nil, err
	}
	query, args, err := BuildQuery(s.dialect, s.table, s.schema, req)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", s.table, err)
	}
	size := req.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	return &rowStream{rows: rows, schema: schema, size: size}, nil
}

// rowStream converts sql.Rows into batches.
type rowStream struct {
	rows   *sql.Rows
	schema *datatype.Schema
	size   int
	done   bool
}

func (r *rowStream) Schema() *datatype.Schema { return r.schema }

func (r *rowStream) Next(ctx context.Context) (*batch.Batch, error) {
	if r.done {
		return nil, io.EOF
	}
	width := r.schema.Len()
	out := batch.Empty(r.schema)
	dest := make([]any, max(width, 1))
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	for out.NumRows() < r.size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.rows.Next() {
			r.done = true
			if err := r.rows.Err(); err != nil {
				return nil, err
			}
			break
		}
		if err := r.rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i := 0; i < width; i++ {
			v, err := convert(r.schema.Column(i).Type, dest[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", r.schema.Column(i).Name, err)
			}
			out.Columns[i].Data = append(out.Columns[i].Data, v)
		}
	}
	if out.NumRows() == 0 && r.done {
		r.rows.Close()
		return nil, io.EOF
	}
	return out, nil
}

func (r *rowStream) Close() error {
	r.done = true
	return r.rows.Close()
}

// convert maps a driver value onto the canonical representation.
func convert(t datatype.DataType, v any) (any, error) {
	if raw, ok := v.([]byte); ok && t.Kind != datatype.KindBinary {
		v = string(raw)
	}
	if s, ok := v.(string); ok {
		switch {
		case t.IsInteger():
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, err
			}
			return n, nil
		case t.IsFloat(), t.Kind == datatype.KindDecimal:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		case t.Kind == datatype.KindBoolean:
			return strconv.ParseBool(s)
		}
	}
	if n, ok := v.(int64); ok && t.Kind == datatype.KindBoolean {
		return n != 0, nil
	}
	return datatype.Normalize(t, v)
}
