// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// postgres error codes
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

func pqErrorCode(err error) string {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return string(pqErr.Code)
	}
	return ""
}

// constraintName returns the name of the violated constraint, if any.
func constraintName(err error) string {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Constraint
	}
	return ""
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// where accumulates AND-ed conditions written with `?` placeholders.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// rebind converts `?` placeholders to postgres `$n`.
func rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	return int(n), err
}
