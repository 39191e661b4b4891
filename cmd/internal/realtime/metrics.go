package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courier_ws_sessions",
		Help: "Currently open websocket sessions.",
	})

	onlineUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courier_online_users",
		Help: "Users with at least one live session.",
	})
)
