package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics shared by all pools, labelled by pool name
type Metrics struct {
	acquisitions    *prometheus.CounterVec
	releases        *prometheus.CounterVec
	disposals       *prometheus.CounterVec
	factoryErrors   *prometheus.CounterVec
	disposeErrors   *prometheus.CounterVec
	idle            *prometheus.GaugeVec
	checkedOut      *prometheus.GaugeVec
	factoryDuration *prometheus.HistogramVec
}

// NewMetrics creates the pool metrics and registers them with reg.
// A nil reg registers with the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_acquisitions_total",
				Help:      "Number of resources handed out, by source (idle or created)",
			},
			[]string{"pool", "source"},
		),
		releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_releases_total",
				Help:      "Number of resources returned to the pool",
			},
			[]string{"pool"},
		),
		disposals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_disposals_total",
				Help:      "Number of resources discarded, by reason",
			},
			[]string{"pool", "reason"},
		),
		factoryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_factory_errors_total",
				Help:      "Number of failed resource creations",
			},
			[]string{"pool"},
		),
		disposeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_dispose_errors_total",
				Help:      "Number of failed or panicking disposal callbacks",
			},
			[]string{"pool", "reason"},
		),
		idle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_idle_resources",
				Help:      "Number of idle resources held by the pool",
			},
			[]string{"pool"},
		),
		checkedOut: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_checked_out_resources",
				Help:      "Number of resources currently held by callers",
			},
			[]string{"pool"},
		),
		factoryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_factory_duration_seconds",
				Help:      "Duration of resource creation",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"pool"},
		),
	}

	reg.MustRegister(
		m.acquisitions,
		m.releases,
		m.disposals,
		m.factoryErrors,
		m.disposeErrors,
		m.idle,
		m.checkedOut,
		m.factoryDuration,
	)

	return m
}
