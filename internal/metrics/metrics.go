// Package metrics registers the gateway's prometheus counters and gauges:
// replayed-INVITE, re-INVITE and DTMF counters, the failure counter by
// reason, the active-dialog and registered-peer gauges, and the
// media-relay latency histogram, all surfaced at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a constructor-injected bundle; no package-level registry
// state so tests can build their own with prometheus.NewRegistry().
type Metrics struct {
	RetriedInvites     prometheus.Counter
	ReInvites          prometheus.Counter
	DTMFDigitsReceived prometheus.Counter
	CallsFailed        *prometheus.CounterVec
	ActiveDialogs      prometheus.Gauge
	RegisteredPeers    prometheus.Gauge
	RelayLatency       *prometheus.HistogramVec
}

// New builds and registers every metric on reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetriedInvites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sipbridge_retried_invites_total",
			Help: "INVITEs answered by server-transaction replay instead of creating a new dialog.",
		}),
		ReInvites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sipbridge_reinvites_total",
			Help: "Mid-dialog re-INVITEs accepted for renegotiation.",
		}),
		DTMFDigitsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sipbridge_dtmf_digits_received_total",
			Help: "DTMF digits extracted from INFO application/dtmf-relay bodies.",
		}),
		CallsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sipbridge_calls_failed_total",
			Help: "Calls that ended via call-failed, labeled by reason.",
		}, []string{"reason"}),
		ActiveDialogs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sipbridge_active_dialogs",
			Help: "Dialogs currently held in the dialog store.",
		}),
		RegisteredPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sipbridge_registered_peers",
			Help: "Browser peers currently registered with the signaling hub.",
		}),
		RelayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sipbridge_media_relay_latency_seconds",
			Help:    "Media-relay RPC latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.RetriedInvites, m.ReInvites, m.DTMFDigitsReceived, m.CallsFailed,
		m.ActiveDialogs, m.RegisteredPeers, m.RelayLatency,
	)
	return m
}

// ObserveRelayLatency times a media-relay RPC and records it under op.
func (m *Metrics) ObserveRelayLatency(op string, start time.Time) {
	m.RelayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
