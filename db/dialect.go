package db

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// dialect hides the SQL differences between the supported engines. Every
// method returns a SQL fragment; values always travel as parameters.
type dialect interface {
	driverName() string
	// placeholder returns the n-th (1-based) positional parameter. Both
	// engines accept the same numbered parameter more than once.
	placeholder(n int) string
	quote(ident string) string
	// jsonValue binds parameter n as a JSON document.
	jsonValue(n int) string
	// jsonParam extracts the text at path from a JSON document passed as
	// parameter n.
	jsonParam(n int, path []string) string
	// jsonColumn extracts the text at path from a stored JSON column.
	jsonColumn(column string, path []string) string
	// number casts a text expression to a floating point value.
	number(expr string) string
	docType() string
	timestampType() string
	now() string
	// seqColumn is an expression ordering rows by first insertion; seqDDL
	// declares it when the engine has no implicit equivalent.
	seqColumn() string
	seqDDL() string
	columnsQuery() string
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string       { return "sqlite" }
func (sqliteDialect) placeholder(n int) string { return fmt.Sprintf("?%d", n) }

func (sqliteDialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d sqliteDialect) jsonValue(n int) string { return d.placeholder(n) }

func (d sqliteDialect) jsonParam(n int, path []string) string {
	return fmt.Sprintf("json_extract(%s, %s)", d.placeholder(n), sqliteJSONPath(path))
}

func (d sqliteDialect) jsonColumn(column string, path []string) string {
	return fmt.Sprintf("json_extract(%s, %s)", d.quote(column), sqliteJSONPath(path))
}

func (sqliteDialect) number(expr string) string { return fmt.Sprintf("CAST(%s AS REAL)", expr) }
func (sqliteDialect) docType() string           { return "TEXT" }
func (sqliteDialect) timestampType() string     { return "TEXT" }
func (sqliteDialect) now() string               { return "CURRENT_TIMESTAMP" }
func (sqliteDialect) seqColumn() string         { return "rowid" }
func (sqliteDialect) seqDDL() string            { return "" }

func (sqliteDialect) columnsQuery() string {
	return "SELECT name FROM pragma_table_info(?1)"
}

// sqliteJSONPath renders a path as a quoted literal like '$."flight"."iata"'.
// Member names are quoted so keys with dots or spaces still resolve; they
// must not contain a double quote.
func sqliteJSONPath(path []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, p := range path {
		b.WriteString(`."`)
		b.WriteString(p)
		b.WriteString(`"`)
	}
	return "'" + strings.ReplaceAll(b.String(), "'", "''") + "'"
}

// seqColumnName is the insertion sequence column added on engines without rowid.
const seqColumnName = "row_seq"

type postgresDialect struct{}

func (postgresDialect) driverName() string       { return "pgx" }
func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func (d postgresDialect) jsonValue(n int) string { return d.placeholder(n) + "::jsonb" }

func (d postgresDialect) jsonParam(n int, path []string) string {
	return fmt.Sprintf("(%s::jsonb #>> %s)", d.placeholder(n), postgresJSONPath(path))
}

func (d postgresDialect) jsonColumn(column string, path []string) string {
	return fmt.Sprintf("(%s #>> %s)", d.quote(column), postgresJSONPath(path))
}

func (postgresDialect) number(expr string) string {
	return fmt.Sprintf("CAST(NULLIF(%s, '') AS DOUBLE PRECISION)", expr)
}

func (postgresDialect) docType() string       { return "JSONB" }
func (postgresDialect) timestampType() string { return "TIMESTAMPTZ" }
func (postgresDialect) now() string           { return "now()" }
func (postgresDialect) seqColumn() string     { return pq.QuoteIdentifier(seqColumnName) }
func (postgresDialect) seqDDL() string        { return pq.QuoteIdentifier(seqColumnName) + " BIGSERIAL" }

func (postgresDialect) columnsQuery() string {
	return `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`
}

// postgresJSONPath renders a text[] literal like '{"flight","iata"}'.
func postgresJSONPath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(p) + `"`
	}
	return pq.QuoteLiteral("{" + strings.Join(parts, ",") + "}")
}
