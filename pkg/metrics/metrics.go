// Package metrics exposes relay counters in the Prometheus format.
//
// All methods are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"storyrelay/pkg/logger"
)

// Metrics holds the relay's collectors
type Metrics struct {
	gatherer prometheus.Gatherer

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	stories         *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	relogins        prometheus.Counter
	seenIDs         prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyrelay_cycles_total",
			Help: "Completed ingestion cycles by result",
		}, []string{"result"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "storyrelay_cycle_duration_seconds",
			Help:    "Duration of ingestion cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		}),
		stories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyrelay_stories_total",
			Help: "Stories processed by outcome",
		}, []string{"outcome"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyrelay_instagram_requests_total",
			Help: "Instagram API requests by endpoint and status code",
		}, []string{"endpoint", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storyrelay_instagram_request_duration_seconds",
			Help:    "Instagram API request latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),
		relogins: factory.NewCounter(prometheus.CounterOpts{
			Name: "storyrelay_relogins_total",
			Help: "Forced re-authentications after an expired session",
		}),
		seenIDs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "storyrelay_seen_ids",
			Help: "Size of the persisted seen set",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "storyrelay_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that finished without error",
		}),
	}
}

// ObserveCycle records a finished cycle; result is ok, error or panic
func (m *Metrics) ObserveCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if result == "ok" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// AddStories counts n stories with the given outcome
func (m *Metrics) AddStories(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stories.WithLabelValues(outcome).Add(float64(n))
}

// ObserveInstagramRequest matches instagram.Observer
func (m *Metrics) ObserveInstagramRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncRelogin counts a forced re-authentication
func (m *Metrics) IncRelogin() {
	if m == nil {
		return
	}
	m.relogins.Inc()
}

// SetSeen records the seen set size
func (m *Metrics) SetSeen(n int) {
	if m == nil {
		return
	}
	m.seenIDs.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
