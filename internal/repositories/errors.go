package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateCover is returned when a saved list repeats a cover id.
	ErrDuplicateCover = errors.New("duplicate cover id")
	// ErrSchemaMissing means the covers table has not been migrated yet.
	ErrSchemaMissing = errors.New("covers table missing, run migrate")
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
