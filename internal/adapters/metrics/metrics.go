// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/alejandrodnm/polywatch/internal/application/coordination"
	"github.com/alejandrodnm/polywatch/internal/application/tradestore"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "polywatch"

// Metrics holds all Prometheus metrics for the engine. It implements
// coordination.Observer.
type Metrics struct {
	// Ingestion metrics
	TradesIngested prometheus.Counter
	TradesRejected prometheus.Counter

	// Analysis metrics
	AnalysesTotal *prometheus.CounterVec
	BatchesTotal  *prometheus.CounterVec
	GroupsTotal   *prometheus.CounterVec
	FailedPairs   prometheus.Counter

	// Latency metrics
	BatchDuration prometheus.Histogram

	// Health metrics
	LastAnalysis prometheus.Gauge

	reg prometheus.Registerer
}

// NewMetrics registers every metric on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		TradesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_ingested_total",
			Help:      "Total number of trades accepted by the trade store",
		}),
		TradesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_rejected_total",
			Help:      "Total number of trades rejected during ingestion",
		}),

		AnalysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "analyses_total",
			Help:      "Total number of focal wallet analyses by outcome",
		}, []string{"coordinated", "cached"}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Total number of batch runs by completeness",
		}, []string{"complete"}),
		GroupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "groups_detected_total",
			Help:      "Total number of coordination groups reported by risk level",
		}, []string{"risk"}),
		FailedPairs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "failed_pairs_total",
			Help:      "Total number of pair computations that failed and were skipped",
		}),

		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch analysis duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		LastAnalysis: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_analysis_timestamp",
			Help:      "Unix timestamp of the last completed analysis",
		}),

		reg: reg,
	}
}

// OnEvent implements coordination.Observer.
func (m *Metrics) OnEvent(ev coordination.Event) {
	switch p := ev.Payload.(type) {
	case tradestore.IngestReport:
		m.TradesIngested.Add(float64(p.Accepted))
		m.TradesRejected.Add(float64(len(p.Rejected)))
	case domain.AnalysisResult:
		m.AnalysesTotal.WithLabelValues(strconv.FormatBool(p.IsCoordinated), strconv.FormatBool(p.FromCache)).Inc()
		// un hit de caché repite fallos y grupos ya contados
		if !p.FromCache {
			m.FailedPairs.Add(float64(p.FailedPairs))
			m.recordGroups(p.Groups)
		}
		m.LastAnalysis.Set(float64(ev.At.Unix()))
	case domain.BatchResult:
		m.BatchesTotal.WithLabelValues(strconv.FormatBool(!p.Incomplete)).Inc()
		m.FailedPairs.Add(float64(p.FailedPairs))
		m.BatchDuration.Observe(p.ProcessingTime.Seconds())
		m.recordGroups(p.Groups)
		m.LastAnalysis.Set(float64(ev.At.Unix()))
	}
}

func (m *Metrics) recordGroups(groups []domain.Group) {
	for _, g := range groups {
		m.GroupsTotal.WithLabelValues(g.RiskLevel.String()).Inc()
	}
}

// RegisterCache exposes the result cache counters, read on every scrape.
func (m *Metrics) RegisterCache(namespace string, stats func() domain.CacheStats) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	factory := promauto.With(m.reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of result cache hits",
	}, func() float64 { return float64(stats().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of result cache misses",
	}, func() float64 { return float64(stats().Misses) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Current number of cached results",
	}, func() float64 { return float64(stats().Entries) })
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
