package shortener

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the durable store of URL records. PostgreSQL is the source
// of truth; every method is a single statement, so a failure never leaves a
// partial write behind.
type Repository interface {
	// Insert fails with errx.Conflict wrapping ErrDuplicateCode when the code is taken.
	Insert(ctx context.Context, rec URLRecord) (URLRecord, error)
	// LookupPlain reads the long URL without counting a click.
	LookupPlain(ctx context.Context, code string) (string, error)
	// LookupAndIncrement counts a click and returns the target in one round trip.
	LookupAndIncrement(ctx context.Context, code string) (Resolved, error)
	// IncrementClicks counts a click without reading the row back.
	IncrementClicks(ctx context.Context, code string) error
	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]URLRecord, error)
}
