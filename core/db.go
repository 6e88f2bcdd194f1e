package core

import (
	"context"
	"database/sql"
	"strings"
)

type (
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		Begin() (*sql.Tx, error)
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// OrderBy renders an ORDER BY list from orderings whose Field is a key of columns.
// Unknown fields are dropped; fallback is returned when nothing is left.
func OrderBy(ordering []DBOrdering, columns map[string]string, fallback string) string {
	list := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		list = append(list, DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(list) == 0 {
		return fallback
	}
	return strings.Join(list, ", ")
}
