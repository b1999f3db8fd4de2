package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for latexfogel.
// Uses a custom registry — no global state. A nil *Metrics is valid and
// makes every recording method a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	// Render pipeline metrics.
	RendersTotal   *prometheus.CounterVec
	RenderDuration *prometheus.HistogramVec

	// Interactive action metrics (delete / widen clicks).
	ActionsTotal *prometheus.CounterVec

	// Question-answering API metrics.
	AnswersTotal    *prometheus.CounterVec
	AnswersDuration *prometheus.HistogramVec

	// Correlation cache metrics.
	CacheEntries   *prometheus.GaugeVec
	EvictionsTotal prometheus.Counter
}

// NewMetrics creates a Metrics with all collectors registered on a custom
// prometheus.Registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latexfogel",
			Subsystem: "render",
			Name:      "jobs_total",
			Help:      "Total render jobs by outcome.",
		}, []string{"role", "mode", "status"}),

		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "latexfogel",
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Render job duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"role", "mode"}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latexfogel",
			Subsystem: "interaction",
			Name:      "actions_total",
			Help:      "Total interactive action clicks by outcome.",
		}, []string{"kind", "status"}),

		AnswersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latexfogel",
			Subsystem: "answers",
			Name:      "requests_total",
			Help:      "Total question-answering API requests.",
		}, []string{"endpoint", "status"}),

		AnswersDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "latexfogel",
			Subsystem: "answers",
			Name:      "request_duration_seconds",
			Help:      "Question-answering API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		CacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "latexfogel",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Live entries per correlation cache.",
		}, []string{"cache"}),

		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "latexfogel",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total cache entries evicted by the TTL sweep.",
		}),
	}

	reg.MustRegister(
		m.RendersTotal,
		m.RenderDuration,
		m.ActionsTotal,
		m.AnswersTotal,
		m.AnswersDuration,
		m.CacheEntries,
		m.EvictionsTotal,
	)

	return m
}

// ObserveRender records one finished render job.
func (m *Metrics) ObserveRender(role, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RendersTotal.WithLabelValues(role, mode, status).Inc()
	m.RenderDuration.WithLabelValues(role, mode).Observe(d.Seconds())
}

// ObserveAction records one interactive action click.
func (m *Metrics) ObserveAction(kind, status string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveAnswers records one question-answering API call.
func (m *Metrics) ObserveAnswers(endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(endpoint, status).Inc()
	m.AnswersDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetCacheSize records the live entry count of a cache.
func (m *Metrics) SetCacheSize(cache string, n int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cache).Set(float64(n))
}

// AddEvictions records entries removed by a TTL sweep.
func (m *Metrics) AddEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvictionsTotal.Add(float64(n))
}
