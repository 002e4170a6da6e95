package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DispatchCounter tracks dispatches by channel and outcome.
	DispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipcbridge_dispatch_total",
		Help: "Total number of channel dispatches",
	}, []string{"channel", "outcome"})
	// DispatchLatency observes handler execution time.
	DispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ipcbridge_dispatch_seconds",
		Help:    "Latency of channel dispatches",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	// ClientGauge reports the number of connected push clients.
	ClientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ipcbridge_push_clients",
		Help: "Current number of connected push clients",
	})
	// PushCounter tracks envelopes broadcast to push clients.
	PushCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipcbridge_push_total",
		Help: "Total number of push envelopes broadcast",
	})
	// PushDroppedCounter tracks per-client deliveries that were dropped.
	PushDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipcbridge_push_dropped_total",
		Help: "Total number of push deliveries dropped for a single client",
	})
	// EgressRejectedCounter tracks egress URL rejections by reason.
	EgressRejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipcbridge_egress_rejected_total",
		Help: "Total number of rejected egress URLs",
	}, []string{"reason"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the bridge metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		DispatchCounter,
		DispatchLatency,
		ClientGauge,
		PushCounter,
		PushDroppedCounter,
		EgressRejectedCounter,
	)
}
