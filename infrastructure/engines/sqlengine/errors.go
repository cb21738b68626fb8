package sqlengine

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ahrav/go-assay/internal/ports"
)

// MySQL server error numbers treated as transient.
// 1040 is too many connections, 1053 server shutdown in progress,
// 1205 lock wait timeout and 1213 deadlock.
var mysqlTransient = map[uint16]error{
	1040: ports.ErrServiceUnavailable,
	1053: ports.ErrServiceUnavailable,
	1205: ports.ErrTimeout,
	1213: ports.ErrServiceUnavailable,
}

// classify tags a driver error with the ports sentinel that matches its
// failure class so retry and circuit breaking can reason about it. Errors
// that are not transient are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := transientClass(err); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func transientClass(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ports.ErrConnectionLost
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlTransient[mysqlErr.Number]
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code):
			return ports.ErrConnectionLost
		case pgErr.Code == pgerrcode.QueryCanceled:
			return ports.ErrTimeout
		case pgErr.Code == pgerrcode.TooManyConnections,
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return ports.ErrServiceUnavailable
		}
		return nil
	}
	if pgconn.Timeout(err) {
		return ports.ErrTimeout
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return ports.ErrServiceUnavailable
		case sqlite3.SQLITE_CANTOPEN:
			return ports.ErrConnectionLost
		}
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ports.ErrTimeout
		}
		return ports.ErrConnectionLost
	}
	return nil
}
