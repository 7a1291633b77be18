package shortener

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/sundayezeilo/shortlink/internal/cache"
	"github.com/sundayezeilo/shortlink/internal/cache/mocks"
	"github.com/sundayezeilo/shortlink/internal/errx"
)

/***************
 * Mocks
 ***************/

// mockRepository is an in-memory Repository. Each method can be overridden
// through its func field; otherwise it behaves like the SQL store.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]URLRecord
	clock   time.Time
	calls   map[string]int

	insertFunc             func(ctx context.Context, rec URLRecord) (URLRecord, error)
	lookupPlainFunc        func(ctx context.Context, code string) (string, error)
	lookupAndIncrementFunc func(ctx context.Context, code string) (Resolved, error)
	incrementClicksFunc    func(ctx context.Context, code string) error
	listByOwnerFunc        func(ctx context.Context, owner uuid.UUID) ([]URLRecord, error)
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		records: make(map[string]URLRecord),
		clock:   time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		calls:   make(map[string]int),
	}
}

func (m *mockRepository) called(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockRepository) count(name string) {
	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
}

func (m *mockRepository) record(code string) (URLRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[code]
	return rec, ok
}

func notFound(op string) error {
	return errx.E(op, errx.NotFound, pgx.ErrNoRows)
}

func (m *mockRepository) Insert(ctx context.Context, rec URLRecord) (URLRecord, error) {
	m.count("Insert")
	if m.insertFunc != nil {
		return m.insertFunc(ctx, rec)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.Code]; exists {
		return URLRecord{}, errx.E("repo.Insert", errx.Conflict, ErrDuplicateCode)
	}
	m.clock = m.clock.Add(time.Second)
	rec.Clicks = 0
	rec.CreatedAt = m.clock
	m.records[rec.Code] = rec
	return rec, nil
}

func (m *mockRepository) LookupPlain(ctx context.Context, code string) (string, error) {
	m.count("LookupPlain")
	if m.lookupPlainFunc != nil {
		return m.lookupPlainFunc(ctx, code)
	}

	rec, ok := m.record(code)
	if !ok {
		return "", notFound("repo.LookupPlain")
	}
	return rec.LongURL, nil
}

func (m *mockRepository) LookupAndIncrement(ctx context.Context, code string) (Resolved, error) {
	m.count("LookupAndIncrement")
	if m.lookupAndIncrementFunc != nil {
		return m.lookupAndIncrementFunc(ctx, code)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[code]
	if !ok {
		return Resolved{}, notFound("repo.LookupAndIncrement")
	}
	rec.Clicks++
	m.records[code] = rec
	return Resolved{LongURL: rec.LongURL, OwnerID: rec.OwnerID}, nil
}

func (m *mockRepository) IncrementClicks(ctx context.Context, code string) error {
	m.count("IncrementClicks")
	if m.incrementClicksFunc != nil {
		return m.incrementClicksFunc(ctx, code)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[code]
	if !ok {
		return notFound("repo.IncrementClicks")
	}
	rec.Clicks++
	m.records[code] = rec
	return nil
}

func (m *mockRepository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]URLRecord, error) {
	m.count("ListByOwner")
	if m.listByOwnerFunc != nil {
		return m.listByOwnerFunc(ctx, owner)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := []URLRecord{}
	for _, rec := range m.records {
		if rec.OwnerID != nil && *rec.OwnerID == owner {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b URLRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Code, a.Code)
	})
	return out, nil
}

// mockCodeGenerator hands out codes in order, then repeats the last one.
type mockCodeGenerator struct {
	generateFunc func(length int) (string, error)
	codes        []string
	callCount    int
}

func (m *mockCodeGenerator) Generate(length int) (string, error) {
	m.callCount++

	if m.generateFunc != nil {
		return m.generateFunc(length)
	}
	if len(m.codes) == 0 {
		return strings.Repeat("a", length), nil
	}
	idx := min(m.callCount-1, len(m.codes)-1)
	return m.codes[idx], nil
}

// mockClicks records scheduled codes without doing any work.
type mockClicks struct {
	mu     sync.Mutex
	codes  []string
	reject bool
}

func (m *mockClicks) Enqueue(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.codes = append(m.codes, code)
	return true
}

func (m *mockClicks) scheduled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.codes)
}

// countingMetrics counts engine events.
type countingMetrics struct {
	hits, misses, recorded, failed, dropped, spilled, collisions atomic.Int64
}

func (m *countingMetrics) CacheLookup(hit bool) {
	if hit {
		m.hits.Add(1)
		return
	}
	m.misses.Add(1)
}
func (m *countingMetrics) ClickRecorded()    { m.recorded.Add(1) }
func (m *countingMetrics) ClickTaskFailed()  { m.failed.Add(1) }
func (m *countingMetrics) ClickTaskDropped() { m.dropped.Add(1) }
func (m *countingMetrics) ClickTaskSpilled() { m.spilled.Add(1) }
func (m *countingMetrics) CodeCollision()    { m.collisions.Add(1) }

type fixture struct {
	repo    *mockRepository
	cache   *cache.Memory
	clicks  *mockClicks
	metrics *countingMetrics
	svc     Service
}

func newFixture(t *testing.T, mutate func(*ServiceConfig)) *fixture {
	t.Helper()

	f := &fixture{
		repo:    newMockRepository(),
		cache:   cache.NewMemory(time.Minute),
		clicks:  &mockClicks{},
		metrics: &countingMetrics{},
	}
	cfg := &ServiceConfig{
		Cache:   f.cache,
		Clicks:  f.clicks,
		Metrics: f.metrics,
	}
	if mutate != nil {
		mutate(cfg)
	}
	f.svc = NewService(f.repo, cfg)
	return f
}

func (f *fixture) cached(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.cache.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("cache.Get(%q) unexpected error: %v", key, err)
	}
	return v, ok
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

/***************
 * Constructor Tests
 ***************/

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(newMockRepository(), nil).(*service)

	if svc.codeLength != DefaultCodeLength {
		t.Errorf("codeLength = %d, want %d", svc.codeLength, DefaultCodeLength)
	}
	if svc.codeMaxAttempts != DefaultCodeMaxAttempts {
		t.Errorf("codeMaxAttempts = %d, want %d", svc.codeMaxAttempts, DefaultCodeMaxAttempts)
	}
	if svc.linkTTL != time.Hour {
		t.Errorf("linkTTL = %v, want 1h", svc.linkTTL)
	}
	if svc.listingTTL != 5*time.Minute {
		t.Errorf("listingTTL = %v, want 5m", svc.listingTTL)
	}
	if !svc.listings {
		t.Error("owner listing cache should be enabled by default")
	}

	rec, ok := svc.clicks.(*ClickRecorder)
	if !ok {
		t.Fatalf("default click scheduler = %T, want *ClickRecorder", svc.clicks)
	}
	if err := rec.Stop(context.Background()); err != nil {
		t.Errorf("Stop() unexpected error: %v", err)
	}
}

func TestNewService_ClampsCodeLength(t *testing.T) {
	for _, n := range []int{0, 2, MaxCodeLength + 1} {
		svc := NewService(newMockRepository(), &ServiceConfig{CodeLength: n, Clicks: &mockClicks{}}).(*service)
		if svc.codeLength != DefaultCodeLength {
			t.Errorf("CodeLength %d: got %d, want %d", n, svc.codeLength, DefaultCodeLength)
		}
	}
}

/***************
 * Shorten Tests
 ***************/

func TestShorten_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  ShortenRequest
	}{
		{"empty url", ShortenRequest{LongURL: ""}},
		{"no scheme", ShortenRequest{LongURL: "example.com/path"}},
		{"ftp scheme", ShortenRequest{LongURL: "ftp://example.com/file"}},
		{"no host", ShortenRequest{LongURL: "https://"}},
		{"too long", ShortenRequest{LongURL: "https://example.com/" + strings.Repeat("x", MaxURLLength)}},
		{"custom code too short", ShortenRequest{LongURL: "https://example.com", CustomCode: "ab"}},
		{"custom code bad chars", ShortenRequest{LongURL: "https://example.com", CustomCode: "hello world"}},
		{"custom code leading dash", ShortenRequest{LongURL: "https://example.com", CustomCode: "-promo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.svc.Shorten(context.Background(), tt.req)
			if !errx.Is(err, errx.Invalid) {
				t.Fatalf("Shorten() error = %v, want Invalid", err)
			}
			if n := f.repo.called("Insert"); n != 0 {
				t.Errorf("Insert called %d times, want 0", n)
			}
		})
	}
}

func TestShorten_GeneratedCodeIsWrittenThrough(t *testing.T) {
	gen := &mockCodeGenerator{codes: []string{"Ab3_x9Zq"}}
	f := newFixture(t, func(c *ServiceConfig) { c.CodeGenerator = gen })

	rec, err := f.svc.Shorten(context.Background(), ShortenRequest{LongURL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Shorten() unexpected error: %v", err)
	}

	if rec.Code != "Ab3_x9Zq" || rec.Clicks != 0 || rec.CreatedAt.IsZero() {
		t.Errorf("Shorten() = %+v", rec)
	}
	if rec.OwnerID != nil {
		t.Errorf("OwnerID = %v, want nil for anonymous link", rec.OwnerID)
	}

	got, ok := f.cached(t, cache.LinkKey("Ab3_x9Zq"))
	if !ok || got != "https://example.com/a" {
		t.Errorf("link cache = (%q, %v), want written through", got, ok)
	}
}

func TestShorten_DefaultGeneratorLength(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.svc.Shorten(context.Background(), ShortenRequest{LongURL: "https://example.com"})
	if err != nil {
		t.Fatalf("Shorten() unexpected error: %v", err)
	}
	if len(rec.Code) != 8 {
		t.Errorf("len(code) = %d, want 8", len(rec.Code))
	}
}

func TestShorten_InvalidatesOwnerListing(t *testing.T) {
	f := newFixture(t, nil)
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.GetOwnerURLs(ctx, owner); err != nil {
		t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
	}
	if _, ok := f.cached(t, cache.OwnerKey(owner)); !ok {
		t.Fatal("expected listing snapshot after first read")
	}

	if _, err := f.svc.Shorten(ctx, ShortenRequest{LongURL: "https://example.com", OwnerID: ptr(owner)}); err != nil {
		t.Fatalf("Shorten() unexpected error: %v", err)
	}
	if _, ok := f.cached(t, cache.OwnerKey(owner)); ok {
		t.Error("listing snapshot should be invalidated after create")
	}

	recs, err := f.svc.GetOwnerURLs(ctx, owner)
	if err != nil {
		t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("len(listing) = %d, want 1", len(recs))
	}
}

func TestShorten_CustomCodeConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := ShortenRequest{LongURL: "https://example.com/1", CustomCode: "promo"}
	if _, err := f.svc.Shorten(ctx, req); err != nil {
		t.Fatalf("first Shorten() unexpected error: %v", err)
	}

	req.LongURL = "https://example.com/2"
	_, err := f.svc.Shorten(ctx, req)
	if !errx.Is(err, errx.Conflict) {
		t.Fatalf("Shorten() error = %v, want Conflict", err)
	}
	if n := f.repo.called("Insert"); n != 2 {
		t.Errorf("Insert called %d times, want 2 (custom codes are never retried)", n)
	}

	rec, _ := f.repo.record("promo")
	if rec.LongURL != "https://example.com/1" {
		t.Errorf("stored long url = %q, first writer should win", rec.LongURL)
	}
}

func TestShorten_RetriesGeneratedCollision(t *testing.T) {
	gen := &mockCodeGenerator{codes: []string{"taken123", "taken123", "fresh456"}}
	f := newFixture(t, func(c *ServiceConfig) { c.CodeGenerator = gen })
	ctx := context.Background()

	if _, err := f.svc.Shorten(ctx, ShortenRequest{LongURL: "https://example.com/a", CustomCode: "taken123"}); err != nil {
		t.Fatalf("seed Shorten() unexpected error: %v", err)
	}

	rec, err := f.svc.Shorten(ctx, ShortenRequest{LongURL: "https://example.com/b"})
	if err != nil {
		t.Fatalf("Shorten() unexpected error: %v", err)
	}
	if rec.Code != "fresh456" {
		t.Errorf("code = %q, want fresh456", rec.Code)
	}
	if got := f.metrics.collisions.Load(); got != 2 {
		t.Errorf("collisions = %d, want 2", got)
	}
}

func TestShorten_RetriesExhausted(t *testing.T) {
	gen := &mockCodeGenerator{codes: []string{"samecode"}}
	f := newFixture(t, func(c *ServiceConfig) {
		c.CodeGenerator = gen
		c.CodeMaxAttempts = 4
	})
	f.repo.insertFunc = func(ctx context.Context, rec URLRecord) (URLRecord, error) {
		return URLRecord{}, errx.E("repo.Insert", errx.Conflict, ErrDuplicateCode)
	}

	_, err := f.svc.Shorten(context.Background(), ShortenRequest{LongURL: "https://example.com"})
	if !errx.Is(err, errx.Internal) {
		t.Fatalf("Shorten() error = %v, want Internal", err)
	}
	if !errors.Is(err, ErrDuplicateCode) {
		t.Errorf("error should wrap ErrDuplicateCode, got %v", err)
	}
	if gen.callCount != 4 {
		t.Errorf("generator called %d times, want 4", gen.callCount)
	}
}

func TestShorten_StoreUnavailableIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.insertFunc = func(ctx context.Context, rec URLRecord) (URLRecord, error) {
		return URLRecord{}, errx.E("repo.Insert", errx.Unavailable, errors.New("connection refused"))
	}

	_, err := f.svc.Shorten(context.Background(), ShortenRequest{LongURL: "https://example.com"})
	if !errx.Is(err, errx.Unavailable) {
		t.Fatalf("Shorten() error = %v, want Unavailable", err)
	}
	if n := f.repo.called("Insert"); n != 1 {
		t.Errorf("Insert called %d times, want 1", n)
	}
	if f.cache.Len() != 0 {
		t.Errorf("cache should stay empty, has %d entries", f.cache.Len())
	}
}

func TestShorten_GeneratorError(t *testing.T) {
	gen := &mockCodeGenerator{generateFunc: func(int) (string, error) {
		return "", errors.New("entropy exhausted")
	}}
	f := newFixture(t, func(c *ServiceConfig) { c.CodeGenerator = gen })

	_, err := f.svc.Shorten(context.Background(), ShortenRequest{LongURL: "https://example.com"})
	if !errx.Is(err, errx.Internal) {
		t.Fatalf("Shorten() error = %v, want Internal", err)
	}
}

func TestShorten_CacheFailureIsNotReported(t *testing.T) {
	mc := &mocks.Cache{}
	mc.On("Set", mock.Anything, "promo", "https://example.com", time.Hour).Return(errors.New("redis down"))
	mc.On("Delete", mock.Anything, mock.AnythingOfType("string")).Return(errors.New("redis down"))

	repo := newMockRepository()
	svc := NewService(repo, &ServiceConfig{Cache: mc, Clicks: &mockClicks{}})

	rec, err := svc.Shorten(context.Background(), ShortenRequest{
		LongURL:    "https://example.com",
		OwnerID:    ptr(uuid.New()),
		CustomCode: "promo",
	})
	if err != nil {
		t.Fatalf("Shorten() error = %v, want nil", err)
	}
	if _, ok := repo.record(rec.Code); !ok {
		t.Error("record should be persisted")
	}
	mc.AssertExpectations(t)
}

/***************
 * Resolve Tests
 ***************/

func TestResolve_EmptyCode(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Resolve(context.Background(), "")
	if !errx.Is(err, errx.Invalid) {
		t.Errorf("Resolve() error = %v, want Invalid", err)
	}
}

func TestResolve_MissCountsAndBackfills(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := uuid.New()

	if _, err := f.repo.Insert(ctx, URLRecord{Code: "abc12345", LongURL: "https://example.com/x", OwnerID: &owner}); err != nil {
		t.Fatal(err)
	}
	_ = f.cache.Set(ctx, cache.OwnerKey(owner), "[]", time.Minute)

	got, err := f.svc.Resolve(ctx, "abc12345")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if got != "https://example.com/x" {
		t.Errorf("Resolve() = %q", got)
	}

	rec, _ := f.repo.record("abc12345")
	if rec.Clicks != 1 {
		t.Errorf("clicks = %d, want 1", rec.Clicks)
	}
	if v, ok := f.cached(t, cache.LinkKey("abc12345")); !ok || v != "https://example.com/x" {
		t.Errorf("link cache = (%q, %v), want backfilled", v, ok)
	}
	if _, ok := f.cached(t, cache.OwnerKey(owner)); ok {
		t.Error("owner listing should be invalidated on the miss path")
	}
	if len(f.clicks.scheduled()) != 0 {
		t.Errorf("miss path must not schedule a deferred click, got %v", f.clicks.scheduled())
	}
	if f.metrics.misses.Load() != 1 || f.metrics.hits.Load() != 0 {
		t.Errorf("lookups hit=%d miss=%d, want 0/1", f.metrics.hits.Load(), f.metrics.misses.Load())
	}
}

func TestResolve_HitDefersClick(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Shorten(ctx, ShortenRequest{LongURL: "https://example.com/y", CustomCode: "hot-link"}); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.Resolve(ctx, "hot-link")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if got != "https://example.com/y" {
		t.Errorf("Resolve() = %q", got)
	}
	if n := f.repo.called("LookupAndIncrement"); n != 0 {
		t.Errorf("LookupAndIncrement called %d times on a hit, want 0", n)
	}
	if s := f.clicks.scheduled(); !slices.Equal(s, []string{"hot-link"}) {
		t.Errorf("scheduled clicks = %v, want [hot-link]", s)
	}
}

func TestResolve_HitStillRedirectsWhenClickRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.clicks.reject = true
	ctx := context.Background()
	_ = f.cache.Set(ctx, cache.LinkKey("cached1"), "https://example.com/z", time.Hour)

	got, err := f.svc.Resolve(ctx, "cached1")
	if err != nil || got != "https://example.com/z" {
		t.Errorf("Resolve() = (%q, %v)", got, err)
	}
}

func TestResolve_NotFoundLeavesNoTrace(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Resolve(context.Background(), "missing1")
	if !errx.Is(err, errx.NotFound) {
		t.Fatalf("Resolve() error = %v, want NotFound", err)
	}
	if f.cache.Len() != 0 {
		t.Errorf("cache has %d entries, want 0", f.cache.Len())
	}
	if len(f.clicks.scheduled()) != 0 {
		t.Error("no click should be scheduled for an unknown code")
	}
}

func TestResolve_CacheReadErrorFallsBackToStore(t *testing.T) {
	mc := &mocks.Cache{}
	mc.On("Get", mock.Anything, "abc12345").Return("", false, errx.E("cache.redis.Get", errx.Unavailable, errors.New("timeout")))
	mc.On("Set", mock.Anything, "abc12345", "https://example.com", time.Hour).Return(nil)

	repo := newMockRepository()
	_, _ = repo.Insert(context.Background(), URLRecord{Code: "abc12345", LongURL: "https://example.com"})

	clicks := &mockClicks{}
	svc := NewService(repo, &ServiceConfig{Cache: mc, Clicks: clicks})

	got, err := svc.Resolve(context.Background(), "abc12345")
	if err != nil || got != "https://example.com" {
		t.Fatalf("Resolve() = (%q, %v)", got, err)
	}
	if repo.called("LookupAndIncrement") != 1 {
		t.Error("store should serve the lookup when the cache errors")
	}
	mc.AssertExpectations(t)
}

func TestResolve_StoreUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.lookupAndIncrementFunc = func(ctx context.Context, code string) (Resolved, error) {
		return Resolved{}, errx.E("repo.LookupAndIncrement", errx.Unavailable, context.DeadlineExceeded)
	}

	_, err := f.svc.Resolve(context.Background(), "abc12345")
	if !errx.Is(err, errx.Unavailable) {
		t.Errorf("Resolve() error = %v, want Unavailable", err)
	}
}

/***************
 * Preview Tests
 ***************/

func TestPreview_DoesNotCountClicks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.repo.Insert(ctx, URLRecord{Code: "peek1234", LongURL: "https://example.com/p"})

	for range 2 {
		got, err := f.svc.Preview(ctx, "peek1234")
		if err != nil || got != "https://example.com/p" {
			t.Fatalf("Preview() = (%q, %v)", got, err)
		}
	}

	rec, _ := f.repo.record("peek1234")
	if rec.Clicks != 0 {
		t.Errorf("clicks = %d, want 0", rec.Clicks)
	}
	if n := f.repo.called("LookupPlain"); n != 1 {
		t.Errorf("LookupPlain called %d times, want 1 (second preview is a cache hit)", n)
	}
	if len(f.clicks.scheduled()) != 0 {
		t.Error("preview must not schedule clicks")
	}
}

func TestPreview_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Preview(context.Background(), "nope1234"); !errx.Is(err, errx.NotFound) {
		t.Errorf("Preview() error = %v, want NotFound", err)
	}
}

/***************
 * GetOwnerURLs Tests
 ***************/

func TestGetOwnerURLs_NilOwner(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.GetOwnerURLs(context.Background(), uuid.Nil); !errx.Is(err, errx.Invalid) {
		t.Errorf("GetOwnerURLs() error = %v, want Invalid", err)
	}
}

func TestGetOwnerURLs_ServesSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := uuid.New()

	_, _ = f.repo.Insert(ctx, URLRecord{Code: "first111", LongURL: "https://example.com/1", OwnerID: &owner})
	_, _ = f.repo.Insert(ctx, URLRecord{Code: "second22", LongURL: "https://example.com/2", OwnerID: &owner})
	_, _ = f.repo.Insert(ctx, URLRecord{Code: "someone3", LongURL: "https://example.com/3", OwnerID: ptr(uuid.New())})

	first, err := f.svc.GetOwnerURLs(ctx, owner)
	if err != nil {
		t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
	}
	second, err := f.svc.GetOwnerURLs(ctx, owner)
	if err != nil {
		t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
	}

	if n := f.repo.called("ListByOwner"); n != 1 {
		t.Errorf("ListByOwner called %d times, want 1", n)
	}
	codes := func(recs []URLRecord) []string {
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Code)
		}
		return out
	}
	want := []string{"second22", "first111"}
	if got := codes(first); !slices.Equal(got, want) {
		t.Errorf("first listing = %v, want %v", got, want)
	}
	if got := codes(second); !slices.Equal(got, want) {
		t.Errorf("cached listing = %v, want %v", got, want)
	}
	if !second[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Error("cached snapshot should preserve created_at")
	}
}

func TestGetOwnerURLs_EmptyListingIsCached(t *testing.T) {
	f := newFixture(t, nil)
	owner := uuid.New()

	recs, err := f.svc.GetOwnerURLs(context.Background(), owner)
	if err != nil {
		t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("GetOwnerURLs() = %#v, want empty non-nil slice", recs)
	}
	if v, ok := f.cached(t, cache.OwnerKey(owner)); !ok || v != "[]" {
		t.Errorf("snapshot = (%q, %v), want \"[]\"", v, ok)
	}
}

func TestGetOwnerURLs_RebuildsCorruptSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := uuid.New()
	_, _ = f.repo.Insert(ctx, URLRecord{Code: "only1234", LongURL: "https://example.com", OwnerID: &owner})
	_ = f.cache.Set(ctx, cache.OwnerKey(owner), "{not json", time.Minute)

	recs, err := f.svc.GetOwnerURLs(ctx, owner)
	if err != nil {
		t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].Code != "only1234" {
		t.Errorf("GetOwnerURLs() = %+v", recs)
	}

	raw, ok := f.cached(t, cache.OwnerKey(owner))
	if !ok {
		t.Fatal("snapshot should be rebuilt")
	}
	var snap []URLRecord
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Errorf("rebuilt snapshot does not decode: %v", err)
	}
}

func TestGetOwnerURLs_ListingCacheDisabled(t *testing.T) {
	f := newFixture(t, func(c *ServiceConfig) { c.DisableOwnerListingCache = true })
	ctx := context.Background()
	owner := uuid.New()

	for range 3 {
		if _, err := f.svc.GetOwnerURLs(ctx, owner); err != nil {
			t.Fatalf("GetOwnerURLs() unexpected error: %v", err)
		}
	}
	if n := f.repo.called("ListByOwner"); n != 3 {
		t.Errorf("ListByOwner called %d times, want 3", n)
	}
	if _, ok := f.cached(t, cache.OwnerKey(owner)); ok {
		t.Error("no snapshot should be written when the listing cache is disabled")
	}
}

func TestGetOwnerURLs_StoreError(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.listByOwnerFunc = func(ctx context.Context, owner uuid.UUID) ([]URLRecord, error) {
		return nil, errx.E("repo.ListByOwner", errx.Unavailable, errors.New("pool exhausted"))
	}

	if _, err := f.svc.GetOwnerURLs(context.Background(), uuid.New()); !errx.Is(err, errx.Unavailable) {
		t.Errorf("GetOwnerURLs() error = %v, want Unavailable", err)
	}
}

/***************
 * Consistency
 ***************/

// Links A then B for one owner; A resolved three times (one miss, two
// hits through the recorder). After the recorder drains, the owner's
// listing reflects every click and is ordered newest first.
func TestListingReflectsDeferredClicks(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepository()
	c := cache.NewMemory(time.Minute)
	metrics := &countingMetrics{}

	recorder := NewClickRecorder(ClickRecorderConfig{
		Repository: repo,
		Cache:      c,
		Metrics:    metrics,
		Workers:    2,
		QueueSize:  8,
	})
	svc := NewService(repo, &ServiceConfig{Cache: c, Clicks: recorder, Metrics: metrics})

	owner := uuid.New()
	a, err := svc.Shorten(ctx, ShortenRequest{LongURL: "https://example.com/a", OwnerID: &owner})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Shorten(ctx, ShortenRequest{LongURL: "https://example.com/b", OwnerID: &owner})
	if err != nil {
		t.Fatal(err)
	}

	// drop the write-through entry so the first resolve is a miss
	_ = c.Delete(ctx, cache.LinkKey(a.Code))

	// warm the listing so the deferred clicks have something to invalidate
	if _, err := svc.GetOwnerURLs(ctx, owner); err != nil {
		t.Fatal(err)
	}

	for range 3 {
		got, err := svc.Resolve(ctx, a.Code)
		if err != nil || got != "https://example.com/a" {
			t.Fatalf("Resolve() = (%q, %v)", got, err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := recorder.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() unexpected error: %v", err)
	}

	recs, err := svc.GetOwnerURLs(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(listing) = %d, want 2", len(recs))
	}
	if recs[0].Code != b.Code || recs[1].Code != a.Code {
		t.Errorf("listing order = [%s %s], want [%s %s]", recs[0].Code, recs[1].Code, b.Code, a.Code)
	}
	if recs[1].Clicks != 3 {
		t.Errorf("A clicks = %d, want 3", recs[1].Clicks)
	}
	if recs[0].Clicks != 0 {
		t.Errorf("B clicks = %d, want 0", recs[0].Clicks)
	}
	if metrics.misses.Load() != 1 || metrics.hits.Load() != 2 {
		t.Errorf("lookups hit=%d miss=%d, want 2/1", metrics.hits.Load(), metrics.misses.Load())
	}
}
