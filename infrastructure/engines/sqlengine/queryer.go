package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/ahrav/go-assay/internal/domain"
)

// Result is a query result plus the native type name of every column.
type Result struct {
	domain.Table
	NativeTypes []string
}

// Queryer is the minimal connection surface the engine needs. Values in
// the returned rows are int64, float64, bool, string, time.Time, []byte or
// nil regardless of driver. Query stops scanning after maxRows rows when
// maxRows > 0.
type Queryer interface {
	Query(ctx context.Context, maxRows int, text string, args ...any) (Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// DBQueryer adapts a *sql.DB. It serves the SQLite and MySQL drivers.
type DBQueryer struct {
	db *sql.DB
}

// NewDBQueryer wraps db.
func NewDBQueryer(db *sql.DB) *DBQueryer { return &DBQueryer{db: db} }

// Query implements Queryer.
func (q *DBQueryer) Query(ctx context.Context, maxRows int, text string, args ...any) (Result, error) {
	rows, err := q.db.QueryContext(ctx, text, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Table:       domain.Table{Columns: make([]string, len(cts))},
		NativeTypes: make([]string, len(cts)),
	}
	for i, ct := range cts {
		res.Columns[i] = ct.Name()
		res.NativeTypes[i] = ct.DatabaseTypeName()
	}

	for !full(res.Rows, maxRows) && rows.Next() {
		vals := make([]any, len(cts))
		ptrs := make([]any, len(cts))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		for i, v := range vals {
			vals[i] = normalizeScanned(v, res.NativeTypes[i])
		}
		res.Rows = append(res.Rows, vals)
	}
	return res, rows.Err()
}

func full(rows [][]any, maxRows int) bool {
	return maxRows > 0 && len(rows) >= maxRows
}

// Ping implements Queryer.
func (q *DBQueryer) Ping(ctx context.Context) error { return q.db.PingContext(ctx) }

// Close implements Queryer.
func (q *DBQueryer) Close() error { return q.db.Close() }

// normalizeScanned converts driver values to the common value set. The
// MySQL text protocol returns every column as []byte, so byte slices are
// parsed according to the declared type.
func normalizeScanned(v any, native string) any {
	switch x := v.(type) {
	case []byte:
		s := string(x)
		switch (mysqlDialect{}).NormalizeType(native) {
		case domain.TypeInteger:
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		case domain.TypeFloat, domain.TypeDecimal:
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		case domain.TypeBinary:
			return append([]byte(nil), x...)
		}
		return s
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// PgxQueryer adapts a pgx connection pool.
type PgxQueryer struct {
	pool     *pgxpool.Pool
	connInfo *pgtype.ConnInfo
}

// NewPgxQueryer wraps pool.
func NewPgxQueryer(pool *pgxpool.Pool) *PgxQueryer {
	return &PgxQueryer{pool: pool, connInfo: pgtype.NewConnInfo()}
}

// Query implements Queryer.
func (q *PgxQueryer) Query(ctx context.Context, maxRows int, text string, args ...any) (Result, error) {
	rows, err := q.pool.Query(ctx, text, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	res := Result{
		Table:       domain.Table{Columns: make([]string, len(fds))},
		NativeTypes: make([]string, len(fds)),
	}
	for i, fd := range fds {
		res.Columns[i] = string(fd.Name)
		res.NativeTypes[i] = q.typeName(fd.DataTypeOID)
	}
	for !full(res.Rows, maxRows) && rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Result{}, err
		}
		for i, v := range vals {
			vals[i] = normalizePgValue(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	return res, rows.Err()
}

func (q *PgxQueryer) typeName(oid uint32) string {
	if dt, ok := q.connInfo.DataTypeForOID(oid); ok {
		return dt.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

// normalizePgValue flattens pgtype values that rows.Values leaves
// undecoded.
func normalizePgValue(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case pgtype.Numeric:
		var f float64
		if err := x.AssignTo(&f); err == nil {
			return f
		}
		return nil
	case [16]byte:
		var u pgtype.UUID
		if err := u.Set(x); err == nil {
			var s string
			if err := u.AssignTo(&s); err == nil {
				return s
			}
		}
		return fmt.Sprintf("%x", x)
	case time.Time, int64, float64, bool, string, []byte, nil:
		return v
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Ping implements Queryer.
func (q *PgxQueryer) Ping(ctx context.Context) error { return q.pool.Ping(ctx) }

// Close implements Queryer.
func (q *PgxQueryer) Close() error {
	q.pool.Close()
	return nil
}
