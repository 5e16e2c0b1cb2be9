// internal/metrics/prom.go
// Package metrics centralises Prometheus metric registration for the
// apron-gateway binary. It exposes typed collectors so request-plane code
// can stay import-cycle-free. Metrics register with the global
// prometheus.DefaultRegisterer, exposed via the /metrics HTTP handler on the
// forward listener.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// RequestsTotal counts HTTP Forwarder jobs by outcome.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apron",
		Subsystem: "forward",
		Name:      "requests_total",
		Help:      "Total number of HTTP forwarder jobs by outcome.",
	}, []string{"outcome"})

	// OverlayExchangeSeconds measures round-trip latency of the overlay
	// Exchange RPC as observed by the initiating side.
	OverlayExchangeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "apron",
		Subsystem: "overlay",
		Name:      "exchange_seconds",
		Help:      "Latency of a single overlay Exchange round-trip.",
		Buckets:   prometheus.DefBuckets,
	})

	// OverlayOutboundFailuresTotal counts failed outbound SendRequest calls.
	OverlayOutboundFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apron",
		Subsystem: "overlay",
		Name:      "outbound_failures_total",
		Help:      "Total number of failed overlay SendRequest calls.",
	})

	// CodecErrorsTotal counts dropped envelopes with an unknown schema tag
	// or malformed framing.
	CodecErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apron",
		Subsystem: "codec",
		Name:      "errors_total",
		Help:      "Total number of envelopes dropped due to codec errors.",
	})

	// CatalogueSize reports the current number of service records held
	// locally.
	CatalogueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "apron",
		Subsystem: "catalogue",
		Name:      "services",
		Help:      "Current number of service records in the local catalogue.",
	})

	// ActiveWSSessions reports the number of live WebSocket bridge
	// sessions, split by side ("client" or "service").
	ActiveWSSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "apron",
		Subsystem: "wsbridge",
		Name:      "active_sessions",
		Help:      "Current number of active WebSocket bridge sessions.",
	}, []string{"side"})

	// DroppedFramesTotal counts WS frames dropped by backpressure: the
	// oldest frame evicted from a full service-side session mailbox, and
	// service frames the event loop cannot hand off to a busy client-side
	// session.
	DroppedFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apron",
		Subsystem: "wsbridge",
		Name:      "dropped_frames_total",
		Help:      "Total number of WS frames dropped by backpressure.",
	})

	// HTTPForwarderInFlight reports jobs currently executing in the
	// forwarder worker pool.
	HTTPForwarderInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "apron",
		Subsystem: "forwarder",
		Name:      "inflight",
		Help:      "Number of HTTP forwarder jobs currently executing.",
	})
)

// Register exports all metrics; safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			OverlayExchangeSeconds,
			OverlayOutboundFailuresTotal,
			CodecErrorsTotal,
			CatalogueSize,
			ActiveWSSessions,
			DroppedFramesTotal,
			HTTPForwarderInFlight,
		)
	})
}
