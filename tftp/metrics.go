package tftp

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "stftpu"
	subsystemSession = "session"
)

// Metrics exposes transfer counters through a private prometheus registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	packetsSent      prometheus.Counter
	packetsReceived  prometheus.Counter
	retransmissions  prometheus.Counter
	payloadBytes     *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	ackRTT           prometheus.Histogram
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(namespace string) *Metrics {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "started_total",
			Help:      "Transfer sessions started, by operation.",
		}, []string{"op"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "finished_total",
			Help:      "Transfer sessions finished, by operation and result.",
		}, []string{"op", "result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "active",
			Help:      "Transfer sessions currently running.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Datagrams written by sessions, retransmissions included.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Datagrams accepted by sessions.",
		}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Packets re-sent after a timeout.",
		}),
		payloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "File payload bytes moved, by direction.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams discarded without a reply, by reason.",
		}, []string{"reason"}),
		ackRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ack_rtt_seconds",
			Help:      "Time between sending DATA and receiving its ACK.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	m.registry.MustRegister(
		m.sessionsStarted,
		m.sessionsFinished,
		m.activeSessions,
		m.packetsSent,
		m.packetsReceived,
		m.retransmissions,
		m.payloadBytes,
		m.dropped,
		m.ackRTT,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) sessionStarted(op string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(op).Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionFinished(op string, err error) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(op, resultLabel(err)).Inc()
	m.activeSessions.Dec()
}

func resultLabel(err error) string {
	var (
		peerErr  *PeerError
		protoErr *ProtocolError
		medErr   *MediumError
	)
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.As(err, &peerErr):
		return "peer_error"
	case errors.As(err, &protoErr):
		return "protocol_error"
	case errors.As(err, &medErr):
		return "medium_error"
	}
	return "failed"
}

func (m *Metrics) packetSent() {
	if m != nil {
		m.packetsSent.Inc()
	}
}

func (m *Metrics) packetReceived() {
	if m != nil {
		m.packetsReceived.Inc()
	}
}

func (m *Metrics) retransmitted() {
	if m != nil {
		m.retransmissions.Inc()
	}
}

func (m *Metrics) bytesSent(n int) {
	if m != nil && n > 0 {
		m.payloadBytes.WithLabelValues("sent").Add(float64(n))
	}
}

func (m *Metrics) bytesReceived(n int) {
	if m != nil && n > 0 {
		m.payloadBytes.WithLabelValues("received").Add(float64(n))
	}
}

func (m *Metrics) datagramDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) observeRTT(d time.Duration) {
	if m != nil && d > 0 {
		m.ackRTT.Observe(d.Seconds())
	}
}
