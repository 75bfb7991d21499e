package retrieval

import (
	"time"

	"github.com/hyperjump/nutrirag/internal/vector"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	embeddingCacheHits   prometheus.Counter
	embeddingCacheMisses prometheus.Counter
	resultCacheHits      prometheus.Counter
	resultCacheMisses    prometheus.Counter
	indexMutations       *prometheus.CounterVec
	retrievalLatency     prometheus.Histogram
	backendMode          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil registerer
// returns nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		embeddingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nutrirag_embedding_cache_hits_total",
			Help: "Texts whose embedding was served from the embedding cache",
		}),
		embeddingCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nutrirag_embedding_cache_misses_total",
			Help: "Texts that had to be sent to the embedding provider",
		}),
		resultCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nutrirag_result_cache_hits_total",
			Help: "Retrievals answered from the result cache",
		}),
		resultCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nutrirag_result_cache_misses_total",
			Help: "Retrievals that queried the vector index",
		}),
		indexMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutrirag_index_mutations_total",
			Help: "Successful index mutations by operation",
		}, []string{"op"}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nutrirag_retrieval_latency_seconds",
			Help:    "End-to-end GetRetrievals latency",
			Buckets: prometheus.DefBuckets,
		}),
		backendMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nutrirag_backend_mode",
			Help: "Vector backend in use (1 remote, 0 local)",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.embeddingCacheHits, m.embeddingCacheMisses,
		m.resultCacheHits, m.resultCacheMisses,
		m.indexMutations, m.retrievalLatency, m.backendMode,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) embeddingCounters() (prometheus.Counter, prometheus.Counter) {
	if m == nil {
		return nil, nil
	}
	return m.embeddingCacheHits, m.embeddingCacheMisses
}

func (m *Metrics) resultCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.resultCacheHits.Inc()
	} else {
		m.resultCacheMisses.Inc()
	}
}

func (m *Metrics) mutation(op string) {
	if m == nil {
		return
	}
	m.indexMutations.WithLabelValues(op).Inc()
}

func (m *Metrics) observeRetrieval(start time.Time) {
	if m == nil {
		return
	}
	m.retrievalLatency.Observe(time.Since(start).Seconds())
}

func (m *Metrics) setMode(mode vector.Mode) {
	if m == nil {
		return
	}
	if mode == vector.ModeRemote {
		m.backendMode.Set(1)
	} else {
		m.backendMode.Set(0)
	}
}
