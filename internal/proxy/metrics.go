package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet is the proxy's Prometheus instrumentation, grounded in
// efortin-vllm-chill's use of promauto for its own request/queue counters.
// It is unauthenticated by design, consistent with the client-auth
// non-goal: deployments that need to restrict /metrics do so at the
// network layer.
type metricsSet struct {
	requestsTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	toolCallsTotal   prometheus.Counter
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	factory := promauto.With(reg)
	return &metricsSet{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymark_requests_total",
			Help: "Total proxied requests by route and upstream status code.",
		}, []string{"route", "status"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaymark_upstream_duration_seconds",
			Help:    "Round-trip latency of upstream calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		toolCallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaymark_tool_calls_synthesized_total",
			Help: "Tool calls synthesized from delimited text in non-streaming responses (C4); streamed (C5) tool calls are not counted.",
		}),
	}
}
