// Package metrics holds the Prometheus instruments of a sampling worker.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sgl-project/sampling-agent/pkg/logging"
)

const namespace = "sampling_agent"

// Inference roles used as the "role" label.
const (
	RoleGenerator = "generator"
	RoleOutcome   = "outcome_reward"
	RoleProcess   = "process_reward"
)

// Metrics is a struct that contains all metrics for a sampling worker
type Metrics struct {
	recordsProcessed *prometheus.CounterVec
	pairsEmitted     *prometheus.CounterVec
	easySkipped      *prometheus.CounterVec
	noPositiveKept   *prometheus.CounterVec
	batchesCompleted *prometheus.CounterVec

	inferenceDuration *prometheus.HistogramVec
}

// NewMetrics registers the sampler metrics on registerer, or on the default
// registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		recordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Dataset records that went through generation and scoring",
		}, []string{"shard"}),
		pairsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_emitted_total",
			Help:      "Preference pairs written to the output file",
		}, []string{"shard"}),
		easySkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "easy_queries_skipped_total",
			Help:      "Records dropped because most candidates already succeed",
		}, []string{"shard"}),
		noPositiveKept: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_without_positive_total",
			Help:      "Records whose top candidates all failed the process-reward threshold",
		}, []string{"shard"}),
		batchesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Sub-batches fully processed",
		}, []string{"shard"}),
		inferenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Latency of one batched inference call",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"role"}),
	}
}

// Shard is a view of Metrics bound to one shard label.
type Shard struct {
	m     *Metrics
	label string
}

// ForShard binds the shard label. A nil receiver yields a no-op Shard.
func (m *Metrics) ForShard(index int) *Shard {
	return &Shard{m: m, label: strconv.Itoa(index)}
}

func (s *Shard) RecordProcessed() {
	if s == nil || s.m == nil {
		return
	}
	s.m.recordsProcessed.WithLabelValues(s.label).Inc()
}

func (s *Shard) PairsEmitted(n int) {
	if s == nil || s.m == nil {
		return
	}
	s.m.pairsEmitted.WithLabelValues(s.label).Add(float64(n))
}

func (s *Shard) EasySkipped() {
	if s == nil || s.m == nil {
		return
	}
	s.m.easySkipped.WithLabelValues(s.label).Inc()
}

func (s *Shard) NoPositiveKept() {
	if s == nil || s.m == nil {
		return
	}
	s.m.noPositiveKept.WithLabelValues(s.label).Inc()
}

func (s *Shard) BatchCompleted() {
	if s == nil || s.m == nil {
		return
	}
	s.m.batchesCompleted.WithLabelValues(s.label).Inc()
}

// ObserveInference records the duration of one Infer call for role.
func (s *Shard) ObserveInference(role string, d time.Duration) {
	if s == nil || s.m == nil {
		return
	}
	s.m.inferenceDuration.WithLabelValues(role).Observe(d.Seconds())
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger logging.Interface) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("address", addr).Info("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
