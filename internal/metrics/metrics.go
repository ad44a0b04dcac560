package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_events_total",
		Help: "Inbound events by type",
	}, []string{"type"})
	FanoutSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_fanout_sent_total",
		Help: "Payloads delivered to sockets",
	})
	FanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_fanout_dropped_total",
		Help: "Payloads dropped for closed or slow sockets",
	})
	BackendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_requests_total",
		Help: "Backend REST calls by outcome",
	}, []string{"outcome"})
)

func Init() {
	prometheus.MustRegister(
		ActiveConnections,
		Events,
		FanoutSent,
		FanoutDropped,
		BackendRequests,
	)
}
