package repository

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	cacheLookups     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	coalesced        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "munimap",
			Subsystem: "repository",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by item kind and result (memory, store, miss, stale)",
		}, []string{"kind", "result"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "munimap",
			Subsystem: "repository",
			Name:      "provider_requests_total",
			Help:      "Provider attempts by item kind and outcome (success, retry, failure)",
		}, []string{"kind", "outcome"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "munimap",
			Subsystem: "repository",
			Name:      "coalesced_fetches_total",
			Help:      "Fetches that joined an in-flight request for the same key",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cacheLookups, m.providerRequests, m.coalesced)
	}
	return m
}
