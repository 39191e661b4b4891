package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeLive   = "live"
	outcomeQueued = "queued"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_messages_total",
		Help: "Accepted messages by delivery outcome.",
	}, []string{"outcome"})

	drainedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_queue_drained_total",
		Help: "Messages drained from the undelivered queue on reconnect.",
	})

	purgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_messages_purged_total",
		Help: "Messages removed from the durable log by retention sweeps.",
	})
)

// CountDrained records queue-drain deliveries performed by the session manager.
func CountDrained(n int) {
	if n > 0 {
		drainedTotal.Add(float64(n))
	}
}
