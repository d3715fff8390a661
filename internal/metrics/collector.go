package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

// namespace is deliberately the whole metric name's only prefix: the
// fully-qualified names (gochatd_sessions, gochatd_messages_total, ...) are
// meant to be typed at a Prometheus console without a subsystem segment to
// remember.
const namespace = "gochatd"

// -------------------------------------------------------------------------
// Collector — Prometheus Chat Server Metrics
// -------------------------------------------------------------------------

// Collector holds all gochatd Prometheus metrics.
//
// Metrics are deliberately unlabeled: the server has one listener, one
// descriptor table, and one credential store per process, so a single
// gauge/counter pair per metric is enough to monitor it.
type Collector struct {
	// Sessions tracks the number of currently occupied slots in the
	// descriptor table, excluding the listener itself. Incremented on
	// accept, decremented on session close.
	Sessions prometheus.Gauge

	// MessagesTotal counts CHT_SEND frames accepted and broadcast.
	MessagesTotal prometheus.Counter

	// AuthFailuresTotal counts ACC_LOGIN attempts rejected for an unknown
	// user id or a password mismatch.
	AuthFailuresTotal prometheus.Counter

	// RejectedFramesTotal counts frames that failed header or TLV
	// decoding and forced the originating session closed.
	RejectedFramesTotal prometheus.Counter
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.MessagesTotal,
		c.AuthFailuresTotal,
		c.RejectedFramesTotal,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of currently occupied session slots.",
		}),

		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total CHT_SEND frames accepted and broadcast.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total ACC_LOGIN attempts rejected for bad credentials.",
		}),

		RejectedFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_frames_total",
			Help:      "Total frames rejected at the header or TLV decode layer.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge. Called on accept.
func (c *Collector) RegisterSession() {
	c.Sessions.Inc()
}

// UnregisterSession decrements the active sessions gauge. Called on close.
func (c *Collector) UnregisterSession() {
	c.Sessions.Dec()
}

// -------------------------------------------------------------------------
// Message and Error Counters
// -------------------------------------------------------------------------

// IncMessages increments the accepted chat message counter.
func (c *Collector) IncMessages() {
	c.MessagesTotal.Inc()
}

// IncAuthFailures increments the authentication failure counter.
func (c *Collector) IncAuthFailures() {
	c.AuthFailuresTotal.Inc()
}

// IncRejectedFrames increments the rejected-frame counter.
func (c *Collector) IncRejectedFrames() {
	c.RejectedFramesTotal.Inc()
}
