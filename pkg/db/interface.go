package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Queryer is satisfied by *sql.DB and *sql.Conn.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type DB interface {
	Queryer
	Execer
	Close() error
}

type loggingDB struct {
	db         DB
	logger     log.FieldLogger
	logQueries bool
}

// NewLoggingDB wraps db so every statement is logged at debug level when
// logQueries is set.
func NewLoggingDB(db DB, logger log.FieldLogger, logQueries bool) DB {
	return &loggingDB{
		db:         db,
		logger:     logger,
		logQueries: logQueries,
	}
}

func (l *loggingDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if l.logQueries {
		l.logger.Debugf("QUERY: %s [%s]", query, argsString(args...))
	}
	return l.db.QueryContext(ctx, query, args...)
}

func (l *loggingDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if l.logQueries {
		l.logger.Debugf("EXEC: %s [%s]", query, argsString(args...))
	}
	return l.db.ExecContext(ctx, query, args...)
}

func (l *loggingDB) Close() error {
	return l.db.Close()
}

// maxArgLen caps each logged argument; load statements carry long URI lists.
const maxArgLen = 256

// argsString renders args as "1:<v> 2:<v>" for query logging.
func argsString(args ...interface{}) string {
	var b strings.Builder
	for i, arg := range args {
		if valuer, ok := arg.(driver.Valuer); ok {
			if v, err := valuer.Value(); err == nil {
				arg = v
			}
		}
		var rendered string
		switch v := arg.(type) {
		case string:
			rendered = strconv.Quote(truncate(v))
		case []byte:
			rendered = strconv.Quote(truncate(string(v)))
		default:
			rendered = truncate(fmt.Sprint(v))
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%s", i+1, rendered)
	}
	return b.String()
}

func truncate(s string) string {
	if len(s) <= maxArgLen {
		return s
	}
	return s[:maxArgLen] + "..."
}
