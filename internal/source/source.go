// Package source defines the scan capability the planner pushes
// projections, predicates and slices into.
package source

import (
	"context"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// Source is a table the planner can scan.
type Source interface {
	// Name identifies the source in plan output.
	Name() string

	// Schema is the full schema before projection.
	Schema() *datatype.Schema

	// Statistics returns the row count when it is known.
	Statistics() (rows int64, ok bool)

	// SupportsPredicate reports whether Scan can apply pred itself. When it
	// cannot, the planner keeps a Filter above the scan.
	SupportsPredicate(pred expr.Expr) bool

	// Scan produces the rows of the source. The predicate is applied before
	// the slice.
	Scan(ctx context.Context, req ScanRequest) (batch.Stream, error)
}

// ScanRequest carries everything pushed down into a scan.
type ScanRequest struct {
	// Columns to produce, in order. Nil means every column.
	Columns []string

	// Predicate rows must satisfy, or nil.
	Predicate expr.Expr

	// Slice selects rows after the predicate, or nil for all rows.
	Slice *Slice

	// BatchSize is a hint for the number of rows per batch.
	BatchSize int
}

// Slice is an offset and length row window. An offset past the end yields
// no rows.
type Slice struct {
	Offset int64
	Length int64
}

// Bounds clamps the slice to n rows and returns the [start, end) range.
func (s Slice) Bounds(n int64) (start, end int64) {
	start = min(max(s.Offset, 0), n)
	end = start + min(max(s.Length, 0), n-start)
	return start, end
}

// OutputSchema returns the schema a scan with req produces.
func OutputSchema(src Source, req ScanRequest) (*datatype.Schema, error) {
	if req.Columns == nil {
		return src.Schema(), nil
	}
	return src.Schema().Project(req.Columns)
}
