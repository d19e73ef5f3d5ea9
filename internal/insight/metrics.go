package insight

import "github.com/prometheus/client_golang/prometheus"

// Prometheus window metrics, one time series per tracked series.
var (
	windowMean = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "winstat",
			Name:      "window_mean",
			Help:      "Mean of the samples currently in the series window.",
		},
		[]string{"series"},
	)
	windowStdDev = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "winstat",
			Name:      "window_stddev",
			Help:      "Sample standard deviation of the series window.",
		},
		[]string{"series"},
	)
	windowCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "winstat",
			Name:      "window_count",
			Help:      "Number of samples currently in the series window.",
		},
		[]string{"series"},
	)
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winstat",
			Name:      "samples_total",
			Help:      "Samples accepted into a window, by source.",
		},
		[]string{"source"},
	)
	samplesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winstat",
			Name:      "samples_rejected_total",
			Help:      "Samples dropped before reaching a window, by reason.",
		},
		[]string{"reason"},
	)
	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winstat",
			Name:      "anomalies_total",
			Help:      "Anomalies detected, by detector and severity.",
		},
		[]string{"type", "severity"},
	)
	seriesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "winstat",
			Name:      "series_tracked",
			Help:      "Number of series with an in-memory window.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		windowMean, windowStdDev, windowCount,
		samplesTotal, samplesRejectedTotal, anomaliesTotal,
		seriesTracked,
	)
}

// Rejection reasons.
const (
	rejectInvalid   = "invalid"
	rejectSeriesCap = "series_cap"
)

func recordWindowMetrics(series string, mean, stdDev float64, count int) {
	windowMean.WithLabelValues(series).Set(mean)
	windowStdDev.WithLabelValues(series).Set(stdDev)
	windowCount.WithLabelValues(series).Set(float64(count))
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
