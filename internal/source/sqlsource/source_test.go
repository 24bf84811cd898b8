package sqlsource

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/source"
)

func openOrders(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE orders (id INTEGER, customer TEXT, amount REAL, paid BOOLEAN)`)
	require.NoError(t, err)
	for i, row := range [][]any{
		{1, "ann", 10.5, true},
		{2, "bob", 3.0, false},
		{3, "ann", 7.25, true},
		{4, "cy", nil, false},
		{5, "bob", 12.0, true},
	} {
		_, err := db.Exec(`INSERT INTO orders VALUES (?, ?, ?, ?)`, row...)
		require.NoError(t, err, "row %d", i)
	}
	return db
}

func TestIntrospectAndAnalyze(t *testing.T) {
	ctx := context.Background()
	src, err := Open(ctx, openOrders(t), SQLite, "orders")
	require.NoError(t, err)

	assert.Equal(t, "{id: i64, customer: str, amount: f64, paid: bool}", src.Schema().String())
	_, ok := src.Statistics()
	assert.False(t, ok)

	require.NoError(t, src.Analyze(ctx))
	rows, ok := src.Statistics()
	assert.True(t, ok)
	assert.Equal(t, int64(5), rows)
}

func TestScanPushdown(t *testing.T) {
	ctx := context.Background()
	src, err := Open(ctx, openOrders(t), SQLite, "orders")
	require.NoError(t, err)

	stream, err := src.Scan(ctx, source.ScanRequest{
		Columns:   []string{"id", "amount"},
		Predicate: expr.And(expr.Eq(expr.Col("paid"), expr.Lit(true)), expr.Gt(expr.Col("amount"), expr.Lit(5))),
		Slice:     &source.Slice{Offset: 1, Length: 5},
		BatchSize: 1,
	})
	require.NoError(t, err)
	out, err := batch.Collect(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(3), 7.25}, {int64(5), 12.0}}, out.Rows())
}

func TestScanNulls(t *testing.T) {
	ctx := context.Background()
	src, err := Open(ctx, openOrders(t), SQLite, "orders")
	require.NoError(t, err)

	stream, err := src.Scan(ctx, source.ScanRequest{
		Columns:   []string{"customer", "amount", "paid"},
		Predicate: expr.IsNull(expr.Col("amount")),
	})
	require.NoError(t, err)
	out, err := batch.Collect(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"cy", nil, false}}, out.Rows())
}

func TestSupportsPredicate(t *testing.T) {
	schema := datatype.MustSchema(
		datatype.Column{Name: "a", Type: datatype.Int64},
		datatype.Column{Name: "s", Type: datatype.String},
	)
	src := New(nil, SQLite, "t", schema)
	assert.True(t, src.SupportsPredicate(expr.Gt(expr.Add(expr.Col("a"), expr.Lit(1)), expr.Lit(3))))
	assert.True(t, src.SupportsPredicate(expr.Eq(expr.Call("lower", expr.Col("s")), expr.Lit("x"))))
	assert.False(t, src.SupportsPredicate(expr.Gt(expr.Div(expr.Col("a"), expr.Lit(2)), expr.Lit(1))))
	assert.False(t, src.SupportsPredicate(expr.Eq(expr.Add(expr.Col("s"), expr.Lit("x")), expr.Lit("yx"))))
	assert.False(t, src.SupportsPredicate(expr.Gt(expr.Call("random"), expr.Lit(0.5))))
	assert.False(t, src.SupportsPredicate(expr.Gt(expr.Col("missing"), expr.Lit(0))))
}

func TestBuildQueryDialects(t *testing.T) {
	schema := datatype.MustSchema(
		datatype.Column{Name: "id", Type: datatype.Int64},
		datatype.Column{Name: "the name", Type: datatype.String},
	)
	req := source.ScanRequest{
		Columns:   []string{"the name"},
		Predicate: expr.And(expr.GtEq(expr.Col("id"), expr.Lit(10)), expr.Not(expr.IsNull(expr.Col("the name")))),
		Slice:     &source.Slice{Offset: 20, Length: 5},
	}

	q, args, err := BuildQuery(Postgres, "people", schema, req)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "the name" FROM "people" WHERE (("id" >= $1) AND (NOT ("the name" IS NULL))) LIMIT 5 OFFSET 20`, q)
	assert.Equal(t, []any{int64(10)}, args)

	q, _, err = BuildQuery(SQLite, "people", schema, source.ScanRequest{Predicate: expr.Eq(expr.Col("id"), expr.Lit(1))})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "the name" FROM "people" WHERE ("id" = ?)`, q)

	_, ok := DialectFor("postgres")
	assert.True(t, ok)
	_, ok = DialectFor("oracle")
	assert.False(t, ok)
}
