// Package metrics exposes Prometheus instrumentation for training and
// recommendation serving.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/temcen/cinesense/internal/ml"
)

const namespace = "cinesense"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	trainingDuration      *prometheus.HistogramVec
	modelTrainedTimestamp prometheus.Gauge
	recommendationLatency *prometheus.HistogramVec
	sourceStatus          *prometheus.CounterVec
	cacheRequests         *prometheus.CounterVec
	healthStatus          *prometheus.GaugeVec
	consumerLag           prometheus.Gauge
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		gatherer: gatherer,
		trainingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of model training runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		modelTrainedTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_trained_timestamp_seconds",
			Help:      "Unix time the serving model set was trained",
		}),
		recommendationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommendation_duration_seconds",
			Help:      "Recommendation request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		sourceStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_source_results_total",
			Help:      "Hybrid sub-model outcomes by source and status",
		}, []string{"source", "status"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_cache_requests_total",
			Help:      "Recommendation cache lookups by result",
		}, []string{"result"}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_status",
			Help:      "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"component"}),
		consumerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retrain_consumer_lag",
			Help:      "Retrain request messages not yet consumed",
		}),
	}

	var err error
	if m.trainingDuration, err = register(reg, m.trainingDuration); err != nil {
		return nil, err
	}
	if m.modelTrainedTimestamp, err = register(reg, m.modelTrainedTimestamp); err != nil {
		return nil, err
	}
	if m.recommendationLatency, err = register(reg, m.recommendationLatency); err != nil {
		return nil, err
	}
	if m.sourceStatus, err = register(reg, m.sourceStatus); err != nil {
		return nil, err
	}
	if m.cacheRequests, err = register(reg, m.cacheRequests); err != nil {
		return nil, err
	}
	if m.healthStatus, err = register(reg, m.healthStatus); err != nil {
		return nil, err
	}
	if m.consumerLag, err = register(reg, m.consumerLag); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register metric: %w", err)
	}
	return c, nil
}

// ObserveTraining records one training run.
func (m *Metrics) ObserveTraining(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.trainingDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetModelTrainedAt records when the serving model was trained.
func (m *Metrics) SetModelTrainedAt(t time.Time) {
	if m == nil {
		return
	}
	m.modelTrainedTimestamp.Set(float64(t.Unix()))
}

// ObserveRecommendation records the latency of one request.
func (m *Metrics) ObserveRecommendation(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.recommendationLatency.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveSources counts each sub-model outcome.
func (m *Metrics) ObserveSources(results []ml.SourceResult) {
	if m == nil {
		return
	}
	for _, res := range results {
		m.sourceStatus.WithLabelValues(string(res.Source), string(res.Status)).Inc()
	}
}

// CacheHit counts a cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("hit").Inc()
}

// CacheMiss counts a cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("miss").Inc()
}

// SetHealth records the outcome of a component health check.
func (m *Metrics) SetHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	m.healthStatus.WithLabelValues(component).Set(value)
}

// SetConsumerLag records the retrain consumer lag.
func (m *Metrics) SetConsumerLag(lag int64) {
	if m == nil {
		return
	}
	m.consumerLag.Set(float64(lag))
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
