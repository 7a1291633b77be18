package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	db "github.com/sundayezeilo/shortlink/internal/db/sqlc"
	"github.com/sundayezeilo/shortlink/internal/errx"
)

// DefaultStoreTimeout bounds a single store call, connection acquisition included.
const DefaultStoreTimeout = 2 * time.Second

// querier is an internal interface that abstracts *db.Queries
type querier interface {
	InsertURL(ctx context.Context, arg db.InsertURLParams) (db.Url, error)
	GetLongURL(ctx context.Context, shortCode string) (string, error)
	ResolveAndCountClick(ctx context.Context, shortCode string) (db.ResolveAndCountClickRow, error)
	IncrementClicks(ctx context.Context, shortCode string) (int64, error)
	ListURLsByOwner(ctx context.Context, ownerID pgtype.UUID) ([]db.Url, error)
}

type repo struct {
	q       querier
	timeout time.Duration
}

// RepositoryConfig holds configuration for the repository
type RepositoryConfig struct {
	// Timeout caps each call. Zero means DefaultStoreTimeout, negative disables it.
	Timeout time.Duration
}

// NewRepository creates a new Repository implementation
func NewRepository(q querier, config *RepositoryConfig) Repository {
	if config == nil {
		config = &RepositoryConfig{}
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultStoreTimeout
	}

	return &repo{q: q, timeout: timeout}
}

func (r *repo) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout < 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func mustTime(ts pgtype.Timestamptz, field string) (time.Time, error) {
	if !ts.Valid {
		return time.Time{}, fmt.Errorf("%s unexpectedly NULL", field)
	}
	return ts.Time, nil
}

func toPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

func toDomainRecord(x db.Url) (URLRecord, error) {
	createdAt, err := mustTime(x.CreatedAt, "created_at")
	if err != nil {
		return URLRecord{}, err
	}

	return URLRecord{
		Code:      x.ShortCode,
		LongURL:   x.LongUrl,
		OwnerID:   fromPgUUID(x.OwnerID),
		Clicks:    x.Clicks,
		CreatedAt: createdAt,
	}, nil
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, err)

	case isCodeUniqueViolation(err):
		return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", ErrDuplicateCode, err))

	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func (r *repo) Insert(ctx context.Context, rec URLRecord) (URLRecord, error) {
	const op = "shortener.repo.Insert"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	row, err := r.q.InsertURL(ctx, db.InsertURLParams{
		ShortCode: rec.Code,
		LongUrl:   rec.LongURL,
		OwnerID:   toPgUUID(rec.OwnerID),
	})
	if err != nil {
		return URLRecord{}, mapRepoError(op, err)
	}

	out, err := toDomainRecord(row)
	if err != nil {
		return URLRecord{}, errx.E(op, errx.Internal, err)
	}
	return out, nil
}

func (r *repo) LookupPlain(ctx context.Context, code string) (string, error) {
	const op = "shortener.repo.LookupPlain"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	longURL, err := r.q.GetLongURL(ctx, code)
	if err != nil {
		return "", mapRepoError(op, err)
	}
	return longURL, nil
}

func (r *repo) LookupAndIncrement(ctx context.Context, code string) (Resolved, error) {
	const op = "shortener.repo.LookupAndIncrement"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	row, err := r.q.ResolveAndCountClick(ctx, code)
	if err != nil {
		return Resolved{}, mapRepoError(op, err)
	}
	return Resolved{LongURL: row.LongUrl, OwnerID: fromPgUUID(row.OwnerID)}, nil
}

func (r *repo) IncrementClicks(ctx context.Context, code string) error {
	const op = "shortener.repo.IncrementClicks"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.q.IncrementClicks(ctx, code)
	if err != nil {
		return mapRepoError(op, err)
	}
	if n == 0 {
		return errx.E(op, errx.NotFound, pgx.ErrNoRows)
	}
	return nil
}

func (r *repo) ListByOwner(ctx context.Context, owner uuid.UUID) ([]URLRecord, error) {
	const op = "shortener.repo.ListByOwner"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.q.ListURLsByOwner(ctx, toPgUUID(&owner))
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	out := make([]URLRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toDomainRecord(row)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
