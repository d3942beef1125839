package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the job store reacts to.
const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a duplicate job id on insert.
func IsUniqueViolation(err error) bool { return pgCode(err) == pgUniqueViolation }

// IsUndefinedTable reports a query against render_jobs before the schema exists.
func IsUndefinedTable(err error) bool { return pgCode(err) == pgUndefinedTable }
