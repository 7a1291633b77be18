package shortener

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sundayezeilo/shortlink/internal/cache"
	"github.com/sundayezeilo/shortlink/internal/errx"
)

const (
	DefaultClickWorkers     = 4
	DefaultClickQueueSize   = 1024
	DefaultClickTaskTimeout = 5 * time.Second
)

// ClickScheduler accepts deferred click work without blocking the caller.
type ClickScheduler interface {
	// Enqueue reports false when the click was dropped.
	Enqueue(code string) bool
}

// ClickRecorderConfig holds configuration for the click recorder.
type ClickRecorderConfig struct {
	Repository Repository
	Cache      cache.Cache
	Logger     *slog.Logger
	Metrics    Metrics

	Workers     int
	QueueSize   int
	TaskTimeout time.Duration

	// DisableOwnerListingCache skips owner lookups and invalidation, so
	// tasks use the cheaper IncrementClicks.
	DisableOwnerListingCache bool
}

// ClickRecorder records clicks served from the link cache. Tasks run on a
// fixed pool fed by a bounded queue; when the queue is full a task runs on
// its own goroutine instead of being lost. Failures are logged and dropped.
type ClickRecorder struct {
	repo     Repository
	cache    cache.Cache
	logger   *slog.Logger
	metrics  Metrics
	timeout  time.Duration
	listings bool

	mu      sync.RWMutex
	stopped bool
	queue   chan string

	workers  sync.WaitGroup
	spilled  sync.WaitGroup
	stopOnce sync.Once
}

// NewClickRecorder starts the worker pool. Call Stop to drain it.
func NewClickRecorder(cfg ClickRecorderConfig) *ClickRecorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	c := cfg.Cache
	if c == nil {
		c = nopCache{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultClickWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultClickQueueSize
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultClickTaskTimeout
	}

	r := &ClickRecorder{
		repo:     cfg.Repository,
		cache:    c,
		logger:   logger,
		metrics:  metrics,
		timeout:  timeout,
		listings: !cfg.DisableOwnerListingCache,
		queue:    make(chan string, queueSize),
	}

	r.workers.Add(workers)
	for range workers {
		go r.work()
	}
	return r
}

func (r *ClickRecorder) Enqueue(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		r.metrics.ClickTaskDropped()
		r.logger.Warn("click dropped, recorder stopped", "code", code)
		return false
	}

	select {
	case r.queue <- code:
		return true
	default:
	}

	r.metrics.ClickTaskSpilled()
	r.spilled.Add(1)
	go func() {
		defer r.spilled.Done()
		r.record(code)
	}()
	return true
}

// Stop refuses new clicks, drains the queue and waits for in-flight tasks
// or for ctx to end, whichever comes first.
func (r *ClickRecorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		close(r.queue)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		r.spilled.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ClickRecorder) work() {
	defer r.workers.Done()
	for code := range r.queue {
		r.record(code)
	}
}

// record runs detached from any request so a finished response never
// cancels its own click.
func (r *ClickRecorder) record(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if !r.listings {
		if err := r.repo.IncrementClicks(ctx, code); err != nil {
			r.fail(code, err)
			return
		}
		r.metrics.ClickRecorded()
		return
	}

	res, err := r.repo.LookupAndIncrement(ctx, code)
	if err != nil {
		r.fail(code, err)
		return
	}
	r.metrics.ClickRecorded()
	invalidateOwnerListing(ctx, r.cache, r.logger, res.OwnerID)
}

func (r *ClickRecorder) fail(code string, err error) {
	r.metrics.ClickTaskFailed()
	r.logger.Warn("click task failed",
		"code", code,
		"error", err.Error(),
		"error_kind", errx.KindOf(err),
	)
}
