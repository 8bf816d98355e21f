package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tidecal"

// Metrics holds the Prometheus collectors for provider fetches and catalog sync.
type Metrics struct {
	// labels: source={NOAA,CHS}, outcome={ok,no_data,unavailable,unknown_station}
	ProviderFetches *prometheus.CounterVec
	// labels: source
	ParseSkipped *prometheus.CounterVec
	// labels: result={hit,miss}
	ResolutionCache *prometheus.CounterVec

	// labels: outcome={ok,error}
	DirectoryAttempts *prometheus.CounterVec
	// labels: source, path={remote,snapshot,skipped}, outcome={ok,error}
	SyncRuns *prometheus.CounterVec
	// labels: source, op={inserted,updated,removed}
	SyncRows     *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

func newCollectors() *Metrics {
	return &Metrics{
		ProviderFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetches_total",
			Help:      "Prediction fetches by provider and outcome.",
		}, []string{"source", "outcome"}),
		ParseSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_skipped_records_total",
			Help:      "Malformed provider records skipped while parsing.",
		}, []string{"source"}),
		ResolutionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_cache_total",
			Help:      "Station code resolution cache lookups by result.",
		}, []string{"result"}),
		DirectoryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_attempts_total",
			Help:      "Station directory endpoint attempts by outcome.",
		}, []string{"outcome"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Catalog synchronization passes by source, path and outcome.",
		}, []string{"source", "path", "outcome"}),
		SyncRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_total",
			Help:      "Catalog rows touched by synchronization, by operation.",
		}, []string{"source", "op"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a catalog synchronization pass.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ProviderFetches,
		m.ParseSkipped,
		m.ResolutionCache,
		m.DirectoryAttempts,
		m.SyncRuns,
		m.SyncRows,
		m.SyncDuration,
	}
}

// NewMetrics creates and registers all collectors with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newCollectors()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics on a private registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newCollectors()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the collectors were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// WriteTextfile dumps the current values in the node_exporter textfile format.
// Batch jobs use it instead of serving a scrape endpoint.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Gatherer())
}
