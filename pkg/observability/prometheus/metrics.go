package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/echod/pkg/core/concurrency"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "echod"}, DefaultRegistry)
)

// Transport label values
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Worker pool
	PoolWorkers        prometheus.Gauge
	PoolBusyWorkers    prometheus.Gauge
	PoolQueueLength    prometheus.Gauge
	PoolTasksSubmitted prometheus.Counter
	PoolTasksCompleted prometheus.Counter
	PoolTasksDropped   prometheus.Counter
	PoolTaskDuration   prometheus.Histogram

	// Connections, labelled by transport
	ConnectionsTotal  *prometheus.CounterVec
	ConnectionsActive *prometheus.GaugeVec
	ConnectionErrors  *prometheus.CounterVec
	BytesEchoed       *prometheus.CounterVec
}

// NewMetrics creates and registers a metrics collection. Registering twice
// on the same registerer panics.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		PoolWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "echod_pool_workers",
				Help: "Number of live worker goroutines",
			},
		),
		PoolBusyWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "echod_pool_busy_workers",
				Help: "Number of workers currently running a task",
			},
		),
		PoolQueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "echod_pool_queue_length",
				Help: "Messages waiting in the work queue",
			},
		),
		PoolTasksSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "echod_pool_tasks_submitted_total",
				Help: "Total number of tasks accepted by the pool",
			},
		),
		PoolTasksCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "echod_pool_tasks_completed_total",
				Help: "Total number of tasks that ran to completion",
			},
		),
		PoolTasksDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "echod_pool_tasks_dropped_total",
				Help: "Total number of tasks rejected or discarded at shutdown",
			},
		),
		PoolTaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "echod_pool_task_duration_seconds",
				Help:    "Time a worker spent running one task",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4min
			},
		),

		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echod_connections_total",
				Help: "Total number of connections served",
			},
			[]string{"transport"},
		),
		ConnectionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "echod_connections_active",
				Help: "Connections currently being served",
			},
			[]string{"transport"},
		),
		ConnectionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echod_connection_errors_total",
				Help: "Connections that ended with an error",
			},
			[]string{"transport"},
		),
		BytesEchoed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echod_bytes_echoed_total",
				Help: "Bytes written back to peers",
			},
			[]string{"transport"},
		),
	}
}

// ConnectionOpened records the start of a connection
func (m *Metrics) ConnectionOpened(transport string) {
	m.ConnectionsTotal.WithLabelValues(transport).Inc()
	m.ConnectionsActive.WithLabelValues(transport).Inc()
}

// ConnectionClosed records the end of a connection
func (m *Metrics) ConnectionClosed(transport string, bytesEchoed int64, err error) {
	m.ConnectionsActive.WithLabelValues(transport).Dec()
	if bytesEchoed > 0 {
		m.BytesEchoed.WithLabelValues(transport).Add(float64(bytesEchoed))
	}
	if err != nil {
		m.ConnectionErrors.WithLabelValues(transport).Inc()
	}
}

// UpdatePoolStats sets the queue gauge from a stats snapshot. Worker and
// task series are driven by PoolObserver.
func (m *Metrics) UpdatePoolStats(stats concurrency.PoolStats) {
	m.PoolQueueLength.Set(float64(stats.QueuedMessages))
}

// StatsSource is anything that can report pool stats (a *WorkerPool)
type StatsSource interface {
	Stats() concurrency.PoolStats
}

// RunPoolStatsUpdater refreshes the pool gauges from src every interval
// (default 5s) until stop is closed.
func (m *Metrics) RunPoolStatsUpdater(src StatsSource, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.UpdatePoolStats(src.Stats())
	for {
		select {
		case <-ticker.C:
			m.UpdatePoolStats(src.Stats())
		case <-stop:
			return
		}
	}
}
