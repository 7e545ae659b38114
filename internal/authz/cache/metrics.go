package cache

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	invalidations prometheus.Counter
	backendErrors prometheus.Counter
}

// NewMetrics builds the cache collectors and registers them when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearthside_authz_cache_hits_total",
			Help: "Decision cache hits per tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearthside_authz_cache_miss_total",
			Help: "Decision cache misses per tier.",
		}, []string{"tier"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthside_authz_cache_invalidations_total",
			Help: "Invalidation operations, pattern and version bumps combined.",
		}),
		backendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthside_authz_cache_backend_errors_total",
			Help: "Shared-tier operations that failed and were treated as misses.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.invalidations, m.backendErrors)
	}
	return m
}

func (m *metrics) hit(tier string)  { m.hits.WithLabelValues(tier).Inc() }
func (m *metrics) miss(tier string) { m.misses.WithLabelValues(tier).Inc() }
func (m *metrics) invalidation()    { m.invalidations.Inc() }
func (m *metrics) backendError()    { m.backendErrors.Inc() }
