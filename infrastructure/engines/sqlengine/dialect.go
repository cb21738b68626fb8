// Package sqlengine implements the relational execution engine over
// SQLite, MySQL and PostgreSQL connections.
package sqlengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Dialect names accepted by DialectFor and Open.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// DialectFor returns the dialect registered under name. "postgresql" and
// "sqlite3" are accepted as aliases.
func DialectFor(name string) (ports.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DialectSQLite, "sqlite3":
		return sqliteDialect{}, nil
	case DialectMySQL:
		return mysqlDialect{}, nil
	case DialectPostgres, "postgresql":
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("sql dialect %q: %w", name, ports.ErrInvalidBackend)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return DialectSQLite }

func (sqliteDialect) QuoteIdentifier(name string) string { return quoteWith(name, '"') }

func (sqliteDialect) Placeholder(int) string { return "?" }

// NormalizeType follows SQLite's type affinity rules, so "VARCHAR(10)"
// is a string and "BIGINT" an integer.
func (sqliteDialect) NormalizeType(native string) string {
	t := strings.ToUpper(native)
	switch {
	case t == "":
		return domain.TypeUnknown
	case strings.Contains(t, "INT"):
		return domain.TypeInteger
	case strings.Contains(t, "BOOL"):
		return domain.TypeBoolean
	case strings.Contains(t, "DATETIME"), strings.Contains(t, "TIMESTAMP"):
		return domain.TypeDatetime
	case strings.Contains(t, "DATE"):
		return domain.TypeDate
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return domain.TypeString
	case strings.Contains(t, "BLOB"):
		return domain.TypeBinary
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return domain.TypeFloat
	case strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return domain.TypeDecimal
	}
	return domain.TypeUnknown
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return DialectMySQL }

func (mysqlDialect) QuoteIdentifier(name string) string { return quoteWith(name, '`') }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) NormalizeType(native string) string {
	t := baseType(native)
	switch t {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR",
		"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
		return domain.TypeInteger
	case "FLOAT", "DOUBLE", "REAL":
		return domain.TypeFloat
	case "DECIMAL", "NUMERIC":
		return domain.TypeDecimal
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM", "SET", "JSON":
		return domain.TypeString
	case "BOOL", "BOOLEAN", "BIT":
		return domain.TypeBoolean
	case "DATE":
		return domain.TypeDate
	case "DATETIME", "TIMESTAMP":
		return domain.TypeDatetime
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB":
		return domain.TypeBinary
	}
	return domain.TypeUnknown
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return DialectPostgres }

func (postgresDialect) QuoteIdentifier(name string) string { return quoteWith(name, '"') }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) NormalizeType(native string) string {
	t := baseType(native)
	switch t {
	case "INT2", "INT4", "INT8", "SMALLINT", "INTEGER", "BIGINT", "SERIAL", "BIGSERIAL":
		return domain.TypeInteger
	case "FLOAT4", "FLOAT8", "REAL", "DOUBLE PRECISION":
		return domain.TypeFloat
	case "NUMERIC", "DECIMAL":
		return domain.TypeDecimal
	case "TEXT", "VARCHAR", "BPCHAR", "CHAR", "CHARACTER VARYING", "NAME", "UUID", "JSON", "JSONB":
		return domain.TypeString
	case "BOOL", "BOOLEAN":
		return domain.TypeBoolean
	case "DATE":
		return domain.TypeDate
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP WITH TIME ZONE":
		return domain.TypeDatetime
	case "BYTEA":
		return domain.TypeBinary
	}
	return domain.TypeUnknown
}

// baseType upper-cases native and strips a length or precision suffix.
func baseType(native string) string {
	t := strings.ToUpper(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

func quoteWith(name string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(name, s, s+s) + s
}

// placeholders numbers bind markers for one dialect starting after a
// given offset.
type placeholders struct {
	dialect ports.Dialect
	n       int
}

func (p *placeholders) next() string {
	p.n++
	return p.dialect.Placeholder(p.n)
}
