package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Relayguard.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RateLimitDenials   prometheus.Counter
	CacheLookups       *prometheus.CounterVec
	CacheInvalidations prometheus.Counter
	RateLimitKeys      prometheus.Gauge
	CacheEntries       prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayguard",
				Name:      "requests_total",
				Help:      "Total number of governed requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relayguard",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		RateLimitDenials: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "relayguard",
				Name:      "rate_limit_denials_total",
				Help:      "Total requests rejected by rate limiting",
			},
		),
		CacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayguard",
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by outcome",
			},
			[]string{"outcome"}, // outcome=hit/miss
		),
		CacheInvalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "relayguard",
				Name:      "cache_invalidations_total",
				Help:      "Total cache entries removed by write invalidation",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relayguard",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			},
		),
		CacheEntries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relayguard",
				Name:      "cache_entries",
				Help:      "Number of live response cache entries",
			},
		),
	}
}
