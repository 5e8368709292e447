package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway-level metrics. Registered on the default registry; the app exposes
// them via /metrics.
var (
	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_ws_sessions",
		Help: "Live websocket sessions.",
	})

	metricOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_online_users",
		Help: "Distinct users with at least one live session.",
	})

	metricMessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_messages_relayed_total",
		Help: "Messages accepted and fanned out by the conversation relay.",
	})

	metricTypingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_typing_events_total",
		Help: "Typing indicator transitions broadcast to peers.",
	}, []string{"kind"}) // start | stop | expire

	metricCallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_calls_active",
		Help: "Call sessions currently in a non-terminal state.",
	})

	metricCallOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_call_outcomes_total",
		Help: "Terminal call outcomes.",
	}, []string{"outcome"}) // ended | busy | unreachable | timeout | peer_lost

	metricNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_notifications_total",
		Help: "Notifications persisted, by live delivery result.",
	}, []string{"delivered"}) // true | false
)
