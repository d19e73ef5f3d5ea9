package mqtt

import "github.com/prometheus/client_golang/prometheus"

var messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "winstat",
	Subsystem: "mqtt",
	Name:      "messages_total",
	Help:      "MQTT messages handled by the bridge.",
}, []string{"direction", "result"})

const (
	directionIn  = "in"
	directionOut = "out"

	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultSent     = "sent"
	resultFailed   = "failed"
)

func init() {
	prometheus.MustRegister(messagesTotal)
}
