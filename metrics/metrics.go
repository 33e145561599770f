// Package metrics holds the gateway's Prometheus collectors and the server exposing them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gateway's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tee_gateway",
			Subsystem: "admission",
			Name:      "requests_total",
			Help:      "Worker admission attempts by outcome.",
		},
		[]string{"outcome"},
	)

	signRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tee_gateway",
			Subsystem: "sign",
			Name:      "requests_total",
			Help:      "Signing requests by outcome.",
		},
		[]string{"outcome"},
	)

	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tee_gateway",
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Signature requests waiting for delivery.",
		},
	)

	outboxDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tee_gateway",
			Subsystem: "outbox",
			Name:      "dropped_total",
			Help:      "Signature requests refused because the outbox was full or stopped.",
		},
	)

	signerDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tee_gateway",
			Subsystem: "signer",
			Name:      "deliveries_total",
			Help:      "Deliveries to the threshold signer by result.",
		},
		[]string{"result"},
	)

	allowlistChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tee_gateway",
			Subsystem: "allowlist",
			Name:      "changes_total",
			Help:      "Owner allowlist operations by kind.",
		},
		[]string{"op"},
	)
)

func init() {
	Registry.MustRegister(
		admissions,
		signRequests,
		outboxDepth,
		outboxDropped,
		signerDeliveries,
		allowlistChanges,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordAdmission(outcome string) {
	admissions.WithLabelValues(outcome).Inc()
}

func RecordSign(outcome string) {
	signRequests.WithLabelValues(outcome).Inc()
}

func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

func RecordOutboxDrop() {
	outboxDropped.Inc()
}

func RecordDelivery(ok bool) {
	if ok {
		signerDeliveries.WithLabelValues("ok").Inc()
		return
	}
	signerDeliveries.WithLabelValues("error").Inc()
}

func RecordAllowlistChange(op string) {
	allowlistChanges.WithLabelValues(op).Inc()
}
