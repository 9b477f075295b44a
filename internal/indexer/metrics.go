package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/david/charity-dao/internal/status"
)

type Metrics struct {
	syncs       prometheus.Counter
	failures    prometheus.Counter
	lastSuccess prometheus.Gauge
	duration    prometheus.Histogram
	statuses    *prometheus.GaugeVec
}

// NewMetrics registers the sync metrics on registry. A nil registry
// yields unregistered collectors, which is what tests want.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		syncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "charity_dao_sync_total",
			Help: "Snapshot syncs attempted",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "charity_dao_sync_failures_total",
			Help: "Snapshot syncs that failed",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "charity_dao_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "charity_dao_sync_duration_seconds",
			Help:    "Duration of snapshot syncs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		statuses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charity_dao_entities",
			Help: "Requests and projects by derived status",
		}, []string{"kind", "status"}),
	}
}

func (m *Metrics) observeStatuses(reqs map[status.RequestStatus]int, projects map[status.ProjectStatus]int) {
	m.statuses.Reset()
	for s, n := range reqs {
		m.statuses.WithLabelValues("request", string(s)).Set(float64(n))
	}
	for s, n := range projects {
		m.statuses.WithLabelValues("project", string(s)).Set(float64(n))
	}
}
