// Package metrics registers the process's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on one registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	WorkersLive    prometheus.Gauge
	WorkersByState *prometheus.GaugeVec

	SpawnAdmitted prometheus.Counter
	SpawnRejected prometheus.Counter
	QueueDepth    prometheus.Gauge

	BroadcastFanout prometheus.Counter
	WSClients       prometheus.Gauge

	HTTPDuration *prometheus.HistogramVec

	ScheduleFired  prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		WorkersLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetd_workers_live",
			Help: "Workers currently counting against capacity.",
		}),
		WorkersByState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetd_workers_by_state",
			Help: "Workers by lifecycle state.",
		}, []string{"state"}),
		SpawnAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_spawn_admitted_total",
			Help: "Spawn queue items admitted.",
		}),
		SpawnRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_spawn_rejected_total",
			Help: "Spawn queue items rejected.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetd_spawn_queue_depth",
			Help: "Pending spawn queue items.",
		}),
		BroadcastFanout: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_broadcast_frames_total",
			Help: "Frames pushed to WebSocket clients.",
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetd_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetd_http_request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		ScheduleFired: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_schedule_fired_total",
			Help: "Schedule firings.",
		}),
		TasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_scheduled_tasks_completed_total",
			Help: "Scheduler-originated tasks completed.",
		}),
		TasksFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_scheduled_tasks_failed_total",
			Help: "Scheduler-originated tasks failed after retries.",
		}),
	}
}

// Handler serves this registry's /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one request. Route is the registered pattern, not
// the raw path, to bound label cardinality.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.HTTPDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
