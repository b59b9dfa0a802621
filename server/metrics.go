package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// serverMetrics exposes the relay's operational counters/gauges on
// /metrics: how many clients are connected, how handshakes are
// progressing, and how many dropped events were unauthorized or
// addressed to a chat the sender isn't in.
type serverMetrics struct {
	connectedUsers  prometheus.Gauge
	pendingChats    prometheus.Gauge
	handshakesTotal *prometheus.CounterVec
	droppedEvents   *prometheus.CounterVec
	messagesRelayed prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		connectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connected_users",
			Help: "Number of connections currently logged in.",
		}),
		pendingChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_pending_chats",
			Help: "Number of chats queued awaiting an online custodian.",
		}),
		handshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_handshakes_total",
			Help: "Handshakes by stage (initiated, completed).",
		}, []string{"stage"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_dropped_events_total",
			Help: "Events dropped by reason (unauthorized, non_member).",
		}, []string{"reason"}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_messages_relayed_total",
			Help: "Chat ciphertext messages accepted and fanned out.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectedUsers, m.pendingChats, m.handshakesTotal, m.droppedEvents, m.messagesRelayed)
	}
	return m
}
