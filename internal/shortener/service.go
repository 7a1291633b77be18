package shortener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shortlink/internal/cache"
	"github.com/sundayezeilo/shortlink/internal/errx"
	"github.com/sundayezeilo/shortlink/sluggen"
)

const (
	DefaultCodeLength      = sluggen.DefaultLength
	MinCodeLength          = 3
	MaxCodeLength          = 64
	MaxURLLength           = 2048
	DefaultCodeMaxAttempts = 3

	DefaultLinkTTL    = time.Hour
	DefaultListingTTL = 5 * time.Minute
)

// ShortenRequest represents the parameters for creating a new short code.
type ShortenRequest struct {
	LongURL    string
	OwnerID    *uuid.UUID // nil for anonymous links
	CustomCode string     // Optional: if empty, a code will be generated
}

// Service is the resolution engine: it mints codes, resolves them through
// the cache, accounts clicks and keeps owner listings fresh.
type Service interface {
	Shorten(ctx context.Context, req ShortenRequest) (URLRecord, error)
	// Resolve counts a click.
	Resolve(ctx context.Context, code string) (string, error)
	// Preview resolves without counting a click.
	Preview(ctx context.Context, code string) (string, error)
	GetOwnerURLs(ctx context.Context, owner uuid.UUID) ([]URLRecord, error)
}

type service struct {
	repo            Repository
	cache           cache.Cache
	clicks          ClickScheduler
	codeGenerator   sluggen.Generator
	codeLength      int
	codeMaxAttempts int
	linkTTL         time.Duration
	listingTTL      time.Duration
	listings        bool
	logger          *slog.Logger
	metrics         Metrics
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	Cache cache.Cache
	// Clicks receives cache-hit clicks. When nil the service starts its own
	// ClickRecorder with default settings, which is never stopped.
	Clicks          ClickScheduler
	CodeGenerator   sluggen.Generator
	CodeLength      int
	CodeMaxAttempts int // attempts when generating a unique code (default: 3)
	LinkTTL         time.Duration
	ListingTTL      time.Duration
	// DisableOwnerListingCache makes GetOwnerURLs always read the store.
	DisableOwnerListingCache bool
	Logger                   *slog.Logger
	Metrics                  Metrics
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	c := config.Cache
	if c == nil {
		c = nopCache{}
	}

	gen := config.CodeGenerator
	if gen == nil {
		gen = sluggen.NewURLSafe()
	}

	codeLength := config.CodeLength
	if codeLength < MinCodeLength || codeLength > MaxCodeLength {
		codeLength = DefaultCodeLength
	}

	attempts := config.CodeMaxAttempts
	if attempts <= 0 {
		attempts = DefaultCodeMaxAttempts
	}

	linkTTL := config.LinkTTL
	if linkTTL <= 0 {
		linkTTL = DefaultLinkTTL
	}

	listingTTL := config.ListingTTL
	if listingTTL <= 0 {
		listingTTL = DefaultListingTTL
	}

	clicks := config.Clicks
	if clicks == nil {
		clicks = NewClickRecorder(ClickRecorderConfig{
			Repository:               repo,
			Cache:                    c,
			Logger:                   logger,
			Metrics:                  metrics,
			DisableOwnerListingCache: config.DisableOwnerListingCache,
		})
	}

	return &service{
		repo:            repo,
		cache:           c,
		clicks:          clicks,
		codeGenerator:   gen,
		codeLength:      codeLength,
		codeMaxAttempts: attempts,
		linkTTL:         linkTTL,
		listingTTL:      listingTTL,
		listings:        !config.DisableOwnerListingCache,
		logger:          logger,
		metrics:         metrics,
	}
}

// Shorten stores the record first and only then touches the cache, so a
// cache failure can never turn into a reported error here.
func (s *service) Shorten(ctx context.Context, req ShortenRequest) (URLRecord, error) {
	const op = "shortener.service.Shorten"

	if err := validateURL(req.LongURL); err != nil {
		return URLRecord{}, errx.E(op, errx.Invalid, err)
	}

	var (
		rec URLRecord
		err error
	)
	if req.CustomCode != "" {
		if err := validateCode(req.CustomCode); err != nil {
			return URLRecord{}, errx.E(op, errx.Invalid, err)
		}
		rec, err = s.repo.Insert(ctx, URLRecord{
			Code:    req.CustomCode,
			LongURL: req.LongURL,
			OwnerID: req.OwnerID,
		})
	} else {
		rec, err = s.insertGenerated(ctx, req)
	}
	if err != nil {
		return URLRecord{}, errx.Wrap(op, err)
	}

	s.cacheSet(ctx, cache.LinkKey(rec.Code), rec.LongURL, s.linkTTL)
	if s.listings {
		invalidateOwnerListing(ctx, s.cache, s.logger, rec.OwnerID)
	}
	return rec, nil
}

func (s *service) insertGenerated(ctx context.Context, req ShortenRequest) (URLRecord, error) {
	const op = "shortener.service.insertGenerated"

	for attempt := range s.codeMaxAttempts {
		code, err := s.codeGenerator.Generate(s.codeLength)
		if err != nil {
			return URLRecord{}, errx.E(op, errx.Internal, err)
		}

		rec, err := s.repo.Insert(ctx, URLRecord{
			Code:    code,
			LongURL: req.LongURL,
			OwnerID: req.OwnerID,
		})
		if err == nil {
			return rec, nil
		}

		// Retry on conflict, fail on other errors
		if !errx.Is(err, errx.Conflict) {
			return URLRecord{}, errx.Wrap(op, err)
		}
		s.metrics.CodeCollision()
		s.logger.WarnContext(ctx, "generated code collided",
			"code", code,
			"attempt", attempt+1,
		)
	}

	return URLRecord{}, errx.E(op, errx.Internal,
		fmt.Errorf("%w: no free code after %d attempts", ErrDuplicateCode, s.codeMaxAttempts))
}

// Resolve answers a cache hit immediately and hands the click to the
// scheduler. A miss counts the click in the same statement that reads the
// target, then backfills the cache.
func (s *service) Resolve(ctx context.Context, code string) (string, error) {
	const op = "shortener.service.Resolve"

	if code == "" {
		return "", errx.E(op, errx.Invalid, errors.New("code cannot be empty"))
	}

	if longURL, ok := s.cachedLink(ctx, code); ok {
		if !s.clicks.Enqueue(code) {
			s.logger.WarnContext(ctx, "click not scheduled", "code", code)
		}
		return longURL, nil
	}

	res, err := s.repo.LookupAndIncrement(ctx, code)
	if err != nil {
		return "", errx.Wrap(op, err)
	}
	s.metrics.ClickRecorded()

	s.cacheSet(ctx, cache.LinkKey(code), res.LongURL, s.linkTTL)
	if s.listings {
		invalidateOwnerListing(ctx, s.cache, s.logger, res.OwnerID)
	}
	return res.LongURL, nil
}

func (s *service) Preview(ctx context.Context, code string) (string, error) {
	const op = "shortener.service.Preview"

	if code == "" {
		return "", errx.E(op, errx.Invalid, errors.New("code cannot be empty"))
	}

	if longURL, ok := s.cachedLink(ctx, code); ok {
		return longURL, nil
	}

	longURL, err := s.repo.LookupPlain(ctx, code)
	if err != nil {
		return "", errx.Wrap(op, err)
	}
	s.cacheSet(ctx, cache.LinkKey(code), longURL, s.linkTTL)
	return longURL, nil
}

// GetOwnerURLs serves the owner's listing from its snapshot when one is
// cached. A snapshot that no longer decodes is dropped and rebuilt.
func (s *service) GetOwnerURLs(ctx context.Context, owner uuid.UUID) ([]URLRecord, error) {
	const op = "shortener.service.GetOwnerURLs"

	if owner == uuid.Nil {
		return nil, errx.E(op, errx.Invalid, errors.New("owner cannot be empty"))
	}

	if !s.listings {
		recs, err := s.repo.ListByOwner(ctx, owner)
		if err != nil {
			return nil, errx.Wrap(op, err)
		}
		return recs, nil
	}

	key := cache.OwnerKey(owner)
	raw, found, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "listing cache read failed", "key", key, "error", err.Error())
	case found:
		var recs []URLRecord
		if err := json.Unmarshal([]byte(raw), &recs); err == nil {
			return recs, nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable listing snapshot", "key", key)
		s.cacheDelete(ctx, key)
	}

	recs, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}

	if b, err := json.Marshal(recs); err == nil {
		s.cacheSet(ctx, key, string(b), s.listingTTL)
	}
	return recs, nil
}

// cachedLink treats a failed read exactly like a miss.
func (s *service) cachedLink(ctx context.Context, code string) (string, bool) {
	longURL, found, err := s.cache.Get(ctx, cache.LinkKey(code))
	if err != nil {
		s.logger.WarnContext(ctx, "link cache read failed", "code", code, "error", err.Error())
		found = false
	}
	s.metrics.CacheLookup(found)
	return longURL, found
}

func (s *service) cacheSet(ctx context.Context, key, value string, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err.Error())
	}
}

func (s *service) cacheDelete(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "cache delete failed", "key", key, "error", err.Error())
	}
}

// invalidateOwnerListing evicts the owner's listing snapshot, if any.
func invalidateOwnerListing(ctx context.Context, c cache.Cache, logger *slog.Logger, owner *uuid.UUID) {
	if owner == nil {
		return
	}
	key := cache.OwnerKey(*owner)
	if err := c.Delete(ctx, key); err != nil {
		logger.WarnContext(ctx, "owner listing invalidation failed",
			"key", key,
			"error", err.Error(),
		)
	}
}

// nopCache is used when no cache is configured; every read misses.
type nopCache struct{}

func (nopCache) Get(context.Context, string) (string, bool, error)        { return "", false, nil }
func (nopCache) Set(context.Context, string, string, time.Duration) error { return nil }
func (nopCache) Delete(context.Context, string) error                     { return nil }
func (nopCache) Ping(context.Context) error                               { return nil }

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return errors.New("url too long (max 2048 characters)")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}

func validateCode(code string) error {
	if code == "" {
		return errors.New("code cannot be empty")
	}
	if len(code) < MinCodeLength {
		return errors.New("code too short (minimum 3 characters)")
	}
	if len(code) > MaxCodeLength {
		return errors.New("code too long (maximum 64 characters)")
	}

	if strings.HasPrefix(code, "-") || strings.HasPrefix(code, "_") ||
		strings.HasSuffix(code, "-") || strings.HasSuffix(code, "_") {
		return errors.New("code cannot start or end with dash or underscore")
	}

	for _, char := range code {
		if !isValidCodeChar(char) {
			return errors.New("code contains invalid characters (only alphanumeric, dash, and underscore allowed)")
		}
	}
	return nil
}

func isValidCodeChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}
