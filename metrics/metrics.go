// Package metrics exposes Prometheus metrics for composite walks and exports.
//
// Metrics:
//   - composite_rounds_total{aggregation} (Counter): search requests issued by walks
//   - composite_buckets_total{aggregation} (Counter): buckets delivered to callers
//   - composite_round_duration_seconds{aggregation} (Histogram): duration of one round
//   - composite_walk_failures_total{aggregation} (Counter): walks aborted by an error
//   - export_documents_total{index} (Counter): documents written by scroll exports
//
// Example queries:
//
//	# buckets per second and report
//	sum by (aggregation) (rate(composite_buckets_total[5m]))
//
//	# P95 round latency
//	histogram_quantile(0.95, rate(composite_round_duration_seconds_bucket[5m]))
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pteich/elastic-query-samples/composite"
)

type Metrics struct {
	registry *prometheus.Registry

	rounds          *prometheus.CounterVec
	buckets         *prometheus.CounterVec
	roundDuration   *prometheus.HistogramVec
	walkFailures    *prometheus.CounterVec
	exportDocuments *prometheus.CounterVec
}

// New registers all metrics on reg. Pass nil to get a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "composite_rounds_total",
			Help: "Search requests issued by composite walks",
		}, []string{"aggregation"}),
		buckets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "composite_buckets_total",
			Help: "Buckets delivered by composite walks",
		}, []string{"aggregation"}),
		roundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "composite_round_duration_seconds",
			Help:    "Duration of a single composite round",
			Buckets: prometheus.DefBuckets,
		}, []string{"aggregation"}),
		walkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "composite_walk_failures_total",
			Help: "Composite walks aborted by an error",
		}, []string{"aggregation"}),
		exportDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "export_documents_total",
			Help: "Documents written by scroll exports",
		}, []string{"index"}),
	}
}

// Observer returns walker hooks that record into m.
func (m *Metrics) Observer() composite.Observer {
	return composite.Observer{
		RoundStarted: func(name string, _ int) {
			m.rounds.WithLabelValues(name).Inc()
		},
		RoundFinished: func(name string, _ int, buckets int, d time.Duration) {
			m.buckets.WithLabelValues(name).Add(float64(buckets))
			m.roundDuration.WithLabelValues(name).Observe(d.Seconds())
		},
		WalkFailed: func(name string, _ error) {
			m.walkFailures.WithLabelValues(name).Inc()
		},
	}
}

func (m *Metrics) DocumentsExported(index string, n int) {
	m.exportDocuments.WithLabelValues(index).Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", listen).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
