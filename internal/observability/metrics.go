package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rider_app", Name: "realtime_connected",
		Help: "1 while the realtime connection is up",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rider_app", Name: "realtime_reconnect_attempts_total",
		Help: "Reconnection attempts made by the realtime transport",
	})
	EmitsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rider_app", Name: "realtime_emits_dropped_total",
		Help: "Outbound emits dropped because the socket was not connected",
	})
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rider_app", Name: "realtime_inbound_events_total",
			Help: "Inbound realtime events by event name",
		},
		[]string{"event"},
	)
	SnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rider_app", Name: "ride_snapshot_writes_total",
		Help: "Ride snapshot writes to the session store",
	})
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rider_app", Name: "ride_status_transitions_total",
			Help: "Ride status transitions applied by the state machine",
		},
		[]string{"status"},
	)
)
