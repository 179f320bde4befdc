package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fbroker"

// Metrics contains the Prometheus metrics exported by the coordinator
// and, where noted, the brokerage client.
type Metrics struct {
	// Counters
	WorkersRegisteredTotal *prometheus.CounterVec
	WorkersEvictedTotal    prometheus.Counter
	ConnectionsTotal       *prometheus.CounterVec
	DiscoveryAttemptsTotal *prometheus.CounterVec

	// Gauges
	WorkersOnline       *prometheus.GaugeVec
	ConnectionsOpen     prometheus.Gauge
	CircuitState        *prometheus.GaugeVec
	DashboardSubscribers prometheus.Gauge

	// Histograms
	RequestWorkerListDuration prometheus.Histogram
	SweepDuration             prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the singleton metrics instance, registering it with
// the default Prometheus registry on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
		defaultMetrics.Register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates a Metrics instance bound to no registry yet.
func New() *Metrics {
	return &Metrics{
		WorkersRegisteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_registered_total",
				Help:      "Total SetWorkerStatus(available) messages accepted by the coordinator",
			},
			[]string{"platform"},
		),
		WorkersEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_evicted_total",
				Help:      "Total worker records removed by heartbeat-timeout sweeps",
			},
		),
		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total TCP connections accepted by the coordinator",
			},
			[]string{"outcome"},
		),
		DiscoveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_attempts_total",
				Help:      "Brokerage client FindWorkers calls by resolved discovery mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		WorkersOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_online",
				Help:      "Current live worker count in the registry, by platform",
			},
			[]string{"platform"},
		),
		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_open",
				Help:      "Current number of open TCP connections on the coordinator",
			},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Brokerage client circuit breaker state per coordinator address (0=closed, 1=half-open, 2=open)",
			},
			[]string{"address"},
		),
		DashboardSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dashboard_subscribers",
				Help:      "Current number of connected dashboard WebSocket clients",
			},
		),

		RequestWorkerListDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_worker_list_duration_seconds",
				Help:      "Time to answer a RequestWorkerList query from the registry snapshot",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Time spent per heartbeat-timeout sweep pass",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
		),
	}
}

// Register registers every metric with reg.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.WorkersRegisteredTotal,
		m.WorkersEvictedTotal,
		m.ConnectionsTotal,
		m.DiscoveryAttemptsTotal,
		m.WorkersOnline,
		m.ConnectionsOpen,
		m.CircuitState,
		m.DashboardSubscribers,
		m.RequestWorkerListDuration,
		m.SweepDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerRegistered increments the registration counter for platform.
func (m *Metrics) RecordWorkerRegistered(platform string) {
	m.WorkersRegisteredTotal.WithLabelValues(platform).Inc()
}

// RecordWorkersEvicted adds count to the eviction counter.
func (m *Metrics) RecordWorkersEvicted(count int) {
	if count <= 0 {
		return
	}
	m.WorkersEvictedTotal.Add(float64(count))
}

// RecordConnection increments the connection counter for an outcome
// ("accepted", "rejected", "closed").
func (m *Metrics) RecordConnection(outcome string) {
	m.ConnectionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDiscoveryAttempt increments the discovery counter for a client's
// resolved mode ("static", "coordinator", "filesystem", "mdns") and
// outcome ("success", "failure").
func (m *Metrics) RecordDiscoveryAttempt(mode, outcome string) {
	m.DiscoveryAttemptsTotal.WithLabelValues(mode, outcome).Inc()
}

// SetWorkersOnline updates the live worker gauge for a platform.
func (m *Metrics) SetWorkersOnline(platform string, count float64) {
	m.WorkersOnline.WithLabelValues(platform).Set(count)
}

// SetConnectionsOpen updates the open-connection gauge.
func (m *Metrics) SetConnectionsOpen(count float64) {
	m.ConnectionsOpen.Set(count)
}

// CircuitStateValue mirrors resilience.CircuitState as a numeric gauge value.
type CircuitStateValue float64

const (
	CircuitStateClosed   CircuitStateValue = 0
	CircuitStateHalfOpen CircuitStateValue = 1
	CircuitStateOpen     CircuitStateValue = 2
)

// SetCircuitState updates the circuit breaker gauge for a coordinator address.
func (m *Metrics) SetCircuitState(address string, state CircuitStateValue) {
	m.CircuitState.WithLabelValues(address).Set(float64(state))
}

// RemoveCircuitMetrics drops the gauge series for an address the client
// no longer tracks a breaker for.
func (m *Metrics) RemoveCircuitMetrics(address string) {
	m.CircuitState.DeleteLabelValues(address)
}

// SetDashboardSubscribers updates the connected-WebSocket-client gauge.
func (m *Metrics) SetDashboardSubscribers(count float64) {
	m.DashboardSubscribers.Set(count)
}

// ObserveRequestWorkerListDuration records one RequestWorkerList
// round-trip measured on the coordinator side.
func (m *Metrics) ObserveRequestWorkerListDuration(seconds float64) {
	m.RequestWorkerListDuration.Observe(seconds)
}

// ObserveSweepDuration records one heartbeat-timeout sweep pass.
func (m *Metrics) ObserveSweepDuration(seconds float64) {
	m.SweepDuration.Observe(seconds)
}
