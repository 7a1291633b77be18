// Package metrics exposes engine and HTTP counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sundayezeilo/shortlink/internal/httpx"
)

const namespace = "shortlink"

// Collector owns a private registry so tests and multiple app instances
// never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	clicksRecorded prometheus.Counter
	clickFailed    prometheus.Counter
	clickDropped   prometheus.Counter
	clickSpilled   prometheus.Counter
	collisions     prometheus.Counter
	httpDuration   *prometheus.HistogramVec
}

// New builds a Collector. constLabels are attached to every series, e.g.
// service name and version.
func New(constLabels prometheus.Labels) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
		reg.MustRegister(c)
		return c
	}

	c := &Collector{
		registry: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_lookups_total",
			Help:        "Link cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		clicksRecorded: counter("clicks_recorded_total", "Clicks persisted by the click recorder."),
		clickFailed:    counter("click_tasks_failed_total", "Click tasks that failed and were dropped."),
		clickDropped:   counter("click_tasks_dropped_total", "Clicks refused after the recorder stopped."),
		clickSpilled:   counter("click_tasks_spilled_total", "Click tasks run outside the worker pool because the queue was full."),
		collisions:     counter("code_collisions_total", "Generated codes that collided with an existing one."),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			ConstLabels: constLabels,
			Buckets:     []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(c.cacheLookups, c.httpDuration)

	// pre-create both series so rates work from the first scrape
	c.cacheLookups.WithLabelValues("hit")
	c.cacheLookups.WithLabelValues("miss")

	return c
}

func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) ClickRecorded()    { c.clicksRecorded.Inc() }
func (c *Collector) ClickTaskFailed()  { c.clickFailed.Inc() }
func (c *Collector) ClickTaskDropped() { c.clickDropped.Inc() }
func (c *Collector) ClickTaskSpilled() { c.clickSpilled.Inc() }
func (c *Collector) CodeCollision()    { c.collisions.Inc() }

// Middleware observes request latency labelled by chi route pattern, so
// "/{code}" stays a single series however many codes exist.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := httpx.RoutePattern(r)
		if route == "" {
			route = "unmatched"
		}
		c.httpDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(httpx.StatusOf(ww))).
			Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }
