package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	clientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "winstat",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected WebSocket clients.",
	})

	messagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "ws",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped because a client's send buffer was full.",
	})

	slowClientsKicked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "ws",
		Name:      "slow_clients_kicked_total",
		Help:      "Clients disconnected after missing too many consecutive messages.",
	})
)

func init() {
	prometheus.MustRegister(clientsConnected, messagesDropped, slowClientsKicked)
}
