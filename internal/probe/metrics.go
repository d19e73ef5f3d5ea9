package probe

import "github.com/prometheus/client_golang/prometheus"

var (
	pingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "probe",
		Name:      "pings_total",
		Help:      "Probe rounds per target by outcome.",
	}, []string{"result"})

	roundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "winstat",
		Subsystem: "probe",
		Name:      "round_duration_seconds",
		Help:      "Wall time of one probe round over all targets.",
		Buckets:   prometheus.DefBuckets,
	})
)

const (
	resultReachable   = "reachable"
	resultUnreachable = "unreachable"
	resultError       = "error"
)

func init() {
	prometheus.MustRegister(pingsTotal, roundDuration)
}
