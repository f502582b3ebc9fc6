package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick outcomes used as the outcome label of parkwatch_ticks_total.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Metrics wraps Prometheus collectors for parkwatch.
type Metrics struct {
	registry               *prometheus.Registry
	tickDurationSeconds    prometheus.Histogram
	ticksTotal             *prometheus.CounterVec
	changesTotal           prometheus.Counter
	persistedRowsTotal     prometheus.Counter
	errorsTotal            *prometheus.CounterVec
	alertsTotal            *prometheus.CounterVec
	trackedFacilitiesGauge prometheus.Gauge
	lastSuccessfulTick     prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		tickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parkwatch_tick_duration_seconds",
			Help:    "Duration of poll ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_ticks_total",
			Help: "Total poll ticks by outcome.",
		}, []string{"outcome"}),
		changesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_changes_total",
			Help: "Total facility status changes detected.",
		}),
		persistedRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_persisted_rows_total",
			Help: "Total rows committed to the store.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_errors_total",
			Help: "Total tick errors by kind.",
		}, []string{"kind"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_alerts_total",
			Help: "Total alerts emitted by event.",
		}, []string{"event"}),
		trackedFacilitiesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parkwatch_tracked_facilities",
			Help: "Number of facilities held in the state table.",
		}),
		lastSuccessfulTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parkwatch_last_successful_tick_timestamp",
			Help: "Unix timestamp of the last successful tick.",
		}),
	}

	registry.MustRegister(
		m.tickDurationSeconds,
		m.ticksTotal,
		m.changesTotal,
		m.persistedRowsTotal,
		m.errorsTotal,
		m.alertsTotal,
		m.trackedFacilitiesGauge,
		m.lastSuccessfulTick,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records the duration and outcome of a completed tick.
func (m *Metrics) ObserveTick(duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.tickDurationSeconds.Observe(duration.Seconds())
	m.ticksTotal.WithLabelValues(outcome).Inc()
}

// AddChanges increments the detected changes counter.
func (m *Metrics) AddChanges(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.changesTotal.Add(float64(n))
}

// AddPersistedRows increments the committed rows counter.
func (m *Metrics) AddPersistedRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.persistedRowsTotal.Add(float64(n))
}

// IncErrors increments the error counter for the given kind.
func (m *Metrics) IncErrors(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// IncAlertsTotal increments the alerts counter for the given event.
func (m *Metrics) IncAlertsTotal(event string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(event).Inc()
}

// SetTrackedFacilities sets the state table size gauge.
func (m *Metrics) SetTrackedFacilities(n int) {
	if m == nil {
		return
	}
	m.trackedFacilitiesGauge.Set(float64(n))
}

// SetLastSuccessfulTickTimestamp sets the last successful tick time.
func (m *Metrics) SetLastSuccessfulTickTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulTick.Set(float64(t.Unix()))
}
