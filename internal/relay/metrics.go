package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered per server so tests can build several relays.
type metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	accepted      prometheus.Counter
	rejected      *prometheus.CounterVec
	statusLookups *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "histsync_relay_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "histsync_relay_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "histsync_relay_records_accepted_total",
			Help: "Records appended to a stream",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "histsync_relay_records_rejected_total",
			Help: "Records refused, by rejection code",
		}, []string{"code"}),
		statusLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "histsync_relay_status_cache_lookups_total",
			Help: "Status cache lookups by result (hit, miss)",
		}, []string{"result"}),
	}
}
