// Package metrics exposes the pipeline's operational counters and gauges
// over a Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcome labels.
const (
	OutcomeStored          = "stored"
	OutcomeQuarantined     = "quarantined"
	OutcomeRejectedAuth    = "rejected_auth"
	OutcomeRejectedRate    = "rejected_rate"
	OutcomeRejectedPayload = "rejected_payload"
	OutcomeTransient       = "transient"
)

// Delivery outcome labels.
const (
	OutcomeDelivered    = "delivered"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics owns the Prometheus registry and all pipeline instruments.
type Metrics struct {
	registry *prometheus.Registry

	IngestOutcomes   *prometheus.CounterVec
	JobsEmitted      prometheus.Counter
	DeliveryOutcomes *prometheus.CounterVec

	WriterFlushes       prometheus.Counter
	WriterFlushFailures prometheus.Counter
	WriterDataLoss      prometheus.Counter

	StreamDepth   *prometheus.GaugeVec
	StreamPending *prometheus.GaugeVec
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IngestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_ingest_messages_total",
			Help: "Ingested messages by validation outcome.",
		}, []string{"outcome"}),
		JobsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_delivery_jobs_emitted_total",
			Help: "Delivery jobs emitted by route evaluation.",
		}),
		DeliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_delivery_attempts_total",
			Help: "Delivery attempts by destination kind and outcome.",
		}, []string{"destination", "outcome"}),
		WriterFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_writer_flushes_total",
			Help: "Successful bulk flushes to the storage engine.",
		}),
		WriterFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_writer_flush_failures_total",
			Help: "Failed bulk flush attempts, including retried ones.",
		}),
		WriterDataLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_writer_lost_records_total",
			Help: "Records dropped after the flush retry budget was exhausted.",
		}),
		StreamDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_stream_depth",
			Help: "Messages currently stored per stream class.",
		}, []string{"class"}),
		StreamPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_stream_pending",
			Help: "Delivered but unacknowledged messages per class and group.",
		}, []string{"class", "group"}),
	}

	m.registry.MustRegister(
		m.IngestOutcomes,
		m.JobsEmitted,
		m.DeliveryOutcomes,
		m.WriterFlushes,
		m.WriterFlushFailures,
		m.WriterDataLoss,
		m.StreamDepth,
		m.StreamPending,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
