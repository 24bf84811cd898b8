package sqlsource

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect covers the SQL differences between supported databases.
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string
	Placeholder(n int) string
}

type postgres struct{}

func (postgres) Name() string                       { return "postgres" }
func (postgres) QuoteIdentifier(name string) string { return pq.QuoteIdentifier(name) }
func (postgres) Placeholder(n int) string           { return "$" + strconv.Itoa(n) }

type sqlite struct{}

func (sqlite) Name() string { return "sqlite3" }
func (sqlite) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
func (sqlite) Placeholder(int) string { return "?" }

var (
	// Postgres renders $n placeholders and quotes with lib/pq.
	Postgres Dialect = postgres{}
	// SQLite renders ? placeholders.
	SQLite Dialect = sqlite{}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "postgres", "pq":
		return Postgres, true
	case "sqlite3", "sqlite":
		return SQLite, true
	}
	return nil, false
}
