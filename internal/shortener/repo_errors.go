package shortener

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation  = "23505"
	urlsCodeConstraint = "urls_pkey"
)

// ErrDuplicateCode means the short code already belongs to another record.
var ErrDuplicateCode = errors.New("short code already exists")

func isCodeUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation &&
		pgErr.ConstraintName == urlsCodeConstraint
}
